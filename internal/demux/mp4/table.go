package mp4

import "fmt"

// sample is one access unit's location and timing, resolved from the
// stsz/stco/co64/stsc/stts/ctts/stss box family.
type sample struct {
	offset      int64
	size        int64
	timestampUs int64
	durationUs  int64
	sync        bool
}

type sttsEntry struct {
	count uint32
	delta uint32
}

type cttsEntry struct {
	count  uint32
	offset int64
}

type stscEntry struct {
	firstChunk      uint32
	samplesPerChunk uint32
}

// rawTrack accumulates one trak's boxes while the walker runs; buildSamples
// resolves it into a flat sample table afterwards.
type rawTrack struct {
	timescale   uint32
	sizes       []uint32
	chunkOffsets []uint64
	stsc        []stscEntry
	stts        []sttsEntry
	ctts        []cttsEntry
	syncSamples []uint32 // stss entries; used only when hasStss is set
	hasStss     bool
}

// buildSamples flattens the sample-table boxes into per-sample offsets,
// sizes, timestamps and durations. Timestamps are composition times
// (dts + ctts offset) converted to microseconds.
func buildSamples(rt rawTrack) ([]sample, error) {
	if rt.timescale == 0 {
		return nil, fmt.Errorf("mp4: track has no timescale")
	}
	if len(rt.sizes) == 0 || len(rt.chunkOffsets) == 0 || len(rt.stsc) == 0 {
		return nil, fmt.Errorf("mp4: incomplete sample table (stsz=%d stco=%d stsc=%d)",
			len(rt.sizes), len(rt.chunkOffsets), len(rt.stsc))
	}

	samples := make([]sample, 0, len(rt.sizes))

	// Offsets: walk chunks, expanding each stsc run until the next run's
	// first_chunk (or the last chunk for the final run).
	idx := 0
	for run := 0; run < len(rt.stsc) && idx < len(rt.sizes); run++ {
		first := rt.stsc[run].firstChunk
		last := uint32(len(rt.chunkOffsets))
		if run+1 < len(rt.stsc) {
			last = rt.stsc[run+1].firstChunk - 1
		}
		for chunk := first; chunk <= last && idx < len(rt.sizes); chunk++ {
			if int(chunk) > len(rt.chunkOffsets) {
				return nil, fmt.Errorf("mp4: stsc references chunk %d beyond stco length %d", chunk, len(rt.chunkOffsets))
			}
			pos := int64(rt.chunkOffsets[chunk-1])
			for n := uint32(0); n < rt.stsc[run].samplesPerChunk && idx < len(rt.sizes); n++ {
				samples = append(samples, sample{
					offset: pos,
					size:   int64(rt.sizes[idx]),
				})
				pos += int64(rt.sizes[idx])
				idx++
			}
		}
	}
	if idx != len(rt.sizes) {
		return nil, fmt.Errorf("mp4: chunk map covers %d of %d samples", idx, len(rt.sizes))
	}

	// Timing: dts from stts run lengths, cts = dts + ctts offset.
	var dts int64
	idx = 0
	for _, e := range rt.stts {
		for n := uint32(0); n < e.count && idx < len(samples); n++ {
			samples[idx].timestampUs = roundDiv(dts*1_000_000, int64(rt.timescale))
			samples[idx].durationUs = roundDiv(int64(e.delta)*1_000_000, int64(rt.timescale))
			dts += int64(e.delta)
			idx++
		}
	}

	idx = 0
	for _, e := range rt.ctts {
		for n := uint32(0); n < e.count && idx < len(samples); n++ {
			samples[idx].timestampUs += roundDiv(e.offset*1_000_000, int64(rt.timescale))
			idx++
		}
	}

	// Sync flags: stss lists sync sample numbers (1-based); an absent stss
	// means every sample is a random-access point.
	if rt.hasStss {
		syncSet := make(map[uint32]struct{}, len(rt.syncSamples))
		for _, n := range rt.syncSamples {
			syncSet[n] = struct{}{}
		}
		for i := range samples {
			_, ok := syncSet[uint32(i + 1)]
			samples[i].sync = ok
		}
	} else {
		for i := range samples {
			samples[i].sync = true
		}
	}

	return samples, nil
}

func roundDiv(num, den int64) int64 {
	if den == 0 {
		return 0
	}
	if num >= 0 {
		return (num + den/2) / den
	}
	return -((-num + den/2) / den)
}
