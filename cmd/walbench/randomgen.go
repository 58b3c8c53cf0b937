package main

import "math/rand"

const randomDataSize = 1 << 20

// payloadGenerator hands out slices of a pre-generated buffer whose
// compressibility is controlled by ratio, so snappy runs see realistic data.
type payloadGenerator struct {
	data []byte
	pos  int
}

func newPayloadGenerator(ratio float64, seed int64) *payloadGenerator {
	if ratio <= 0 {
		ratio = 0.01
	}
	r := rand.New(rand.NewSource(seed))
	data := make([]byte, 0, randomDataSize+128)
	for len(data) < randomDataSize {
		data = append(data, compressibleBytes(r, ratio, 100)...)
	}
	return &payloadGenerator{data: data}
}

func (g *payloadGenerator) Next(n int) []byte {
	if n <= 0 {
		return nil
	}
	if n > len(g.data) {
		n = len(g.data)
	}
	if g.pos+n > len(g.data) {
		g.pos = 0
	}
	v := g.data[g.pos : g.pos+n]
	g.pos += n
	return v
}

func compressibleBytes(r *rand.Rand, ratio float64, n int) []byte {
	raw := min(max(int(float64(n)*ratio), 1), n)
	fragment := make([]byte, raw)
	for i := range fragment {
		fragment[i] = byte(' ' + r.Intn(95))
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = fragment[i%raw]
	}
	return out
}
