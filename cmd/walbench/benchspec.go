package main

import "fmt"

type benchSpec struct {
	name string
	// fresh benchmarks start from an empty log file.
	fresh bool
	sync  bool
}

func benchSpecFor(name string) (benchSpec, error) {
	switch name {
	case "fillseq", "fillrandom":
		return benchSpec{name: name, fresh: true}, nil
	case "fillsync":
		return benchSpec{name: name, fresh: true, sync: true}, nil
	case "append", "readrandom", "readseq", "recover":
		return benchSpec{name: name}, nil
	default:
		return benchSpec{}, fmt.Errorf("unknown benchmark %q", name)
	}
}
