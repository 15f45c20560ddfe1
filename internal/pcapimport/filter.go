package pcapimport

import (
	"fmt"

	"golang.org/x/net/bpf"
)

const (
	etherTypeIPv4 = 0x0800
	protoTCP      = 6
	acceptSnap    = 0x40000
)

// portFilter assembles a classic BPF program for Ethernet frames accepting
// unfragmented IPv4 TCP segments with either port in ports. With no ports
// every TCP segment is accepted. Other link types are filtered after
// decoding.
func portFilter(ports []uint16) ([]bpf.Instruction, error) {
	if len(ports) > 120 {
		return nil, fmt.Errorf("too many ports for the prefilter: %d", len(ports))
	}

	var prog []bpf.Instruction
	var toReject, toAccept []int
	jump := func(val uint32, onMatch bool) {
		if onMatch {
			toAccept = append(toAccept, len(prog))
		} else {
			toReject = append(toReject, len(prog))
		}
		prog = append(prog, bpf.JumpIf{Cond: bpf.JumpEqual, Val: val})
	}

	prog = append(prog, bpf.LoadAbsolute{Off: 12, Size: 2})
	jump(etherTypeIPv4, false)
	prog = append(prog, bpf.LoadAbsolute{Off: 23, Size: 1})
	jump(protoTCP, false)
	// fragment offset
	toReject = append(toReject, len(prog)+1)
	prog = append(prog,
		bpf.LoadAbsolute{Off: 20, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpBitsSet, Val: 0x1fff},
	)

	if len(ports) > 0 {
		prog = append(prog, bpf.LoadMemShift{Off: 14})
		for _, off := range []uint32{14, 16} {
			prog = append(prog, bpf.LoadIndirect{Off: off, Size: 2})
			for _, p := range ports {
				jump(uint32(p), true)
			}
		}
	} else {
		toAccept = append(toAccept, len(prog))
		prog = append(prog, bpf.Jump{})
	}

	reject := len(prog)
	prog = append(prog, bpf.RetConstant{Val: 0})
	accept := len(prog)
	prog = append(prog, bpf.RetConstant{Val: acceptSnap})

	for _, i := range toReject {
		prog[i] = retarget(prog[i], i, reject, false)
	}
	for _, i := range toAccept {
		prog[i] = retarget(prog[i], i, accept, true)
	}
	return prog, nil
}

// retarget points the jump at index i to target. Conditional jumps branch on
// match when onMatch is set and fall through otherwise.
func retarget(ins bpf.Instruction, i, target int, onMatch bool) bpf.Instruction {
	skip := target - i - 1
	switch j := ins.(type) {
	case bpf.JumpIf:
		if j.Cond == bpf.JumpEqual && !onMatch {
			j.SkipFalse = uint8(skip)
		} else {
			j.SkipTrue = uint8(skip)
		}
		return j
	case bpf.Jump:
		j.Skip = uint32(skip)
		return j
	}
	return ins
}

// newPortVM compiles portFilter into a userspace VM.
func newPortVM(ports []uint16) (*bpf.VM, error) {
	prog, err := portFilter(ports)
	if err != nil {
		return nil, err
	}
	if _, err := bpf.Assemble(prog); err != nil {
		return nil, fmt.Errorf("assembling port filter: %w", err)
	}
	return bpf.NewVM(prog)
}
