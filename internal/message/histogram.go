package message

import "sort"

// Histogram counts occurrences per integer bucket, e.g. requests per
// second keyed by unix seconds, or rounded response times. It is not safe
// for concurrent use; the stats consumer owns every instance it creates.
type Histogram struct {
	counts map[int64]int64
}

// NewHistogram returns an empty histogram.
func NewHistogram() *Histogram {
	return &Histogram{counts: make(map[int64]int64)}
}

// Add increments the bucket for key by one.
func (h *Histogram) Add(key int64) {
	h.AddN(key, 1)
}

// AddN increments the bucket for key by n.
func (h *Histogram) AddN(key, n int64) {
	if h.counts == nil {
		h.counts = make(map[int64]int64)
	}
	h.counts[key] += n
}

// Get returns the count stored for key, zero when absent.
func (h *Histogram) Get(key int64) int64 {
	if h == nil {
		return 0
	}
	return h.counts[key]
}

// Len reports the number of distinct buckets.
func (h *Histogram) Len() int {
	if h == nil {
		return 0
	}
	return len(h.counts)
}

// Each calls fn for every bucket in ascending key order.
func (h *Histogram) Each(fn func(key, count int64)) {
	if h == nil {
		return
	}
	keys := make([]int64, 0, len(h.counts))
	for k := range h.counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		fn(k, h.counts[k])
	}
}

// Total sums every bucket count.
func (h *Histogram) Total() int64 {
	var total int64
	h.Each(func(_, count int64) { total += count })
	return total
}
