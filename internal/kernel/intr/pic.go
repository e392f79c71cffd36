package intr

// Kind tags which PIC implementation backs a PIC value.
type Kind int

const (
	Legacy8259 Kind = iota
	Apic
)

// ops is the operation table each PIC kind fills in -- a sum type with
// a common dispatch function (Design Notes sec9), not an interface
// hierarchy: PIC itself carries the Kind tag and a single ops struct of
// function pointers, matching spec.md sec4.5's four
// named operations exactly.
type ops struct {
	eoi            func(vector uint8)
	irqToVector    func(irq int) uint8
	setMask        func(irq int, masked bool)
	interruptOther func(vector uint8)
}

// PIC is the polymorphic PIC object: end-of-interrupt, irq-to-vector,
// set-mask, interrupt-all-other (spec.md sec4.5). Two variants exist,
// legacy cascaded 8259 and local+IO APIC; PIC holds the active variant's
// Kind and operation table rather than implementing an interface, per
// Design Notes sec9.
type PIC struct {
	Kind Kind
	ops  ops

	// calibration is APIC-only: the number of APIC bus ticks per
	// scheduler tick, derived from a boot-time measurement against the
	// 8254 channel 0 at a known frequency (spec.md sec4.5).
	ticksPerSchedTick uint64
}

// NewLegacy8259 builds the legacy cascaded-8259 PIC variant. irqBase is
// the vector IRQ 0 is remapped to (spec.md sec6: 0x20..0x2f).
func NewLegacy8259(irqBase uint8, outb func(port uint16, v uint8), inb func(port uint16) uint8) *PIC {
	maskPort := func(irq int) uint16 {
		if irq < 8 {
			return 0x21
		}
		return 0xa1
	}
	return &PIC{
		Kind: Legacy8259,
		ops: ops{
			eoi: func(vector uint8) {
				irq := int(vector) - int(irqBase)
				if irq >= 8 {
					outb(0xa0, 0x20)
				}
				outb(0x20, 0x20)
			},
			irqToVector: func(irq int) uint8 { return irqBase + uint8(irq) },
			setMask: func(irq int, masked bool) {
				port := maskPort(irq)
				bit := uint8(irq) % 8
				cur := inb(port)
				if masked {
					cur |= 1 << bit
				} else {
					cur &^= 1 << bit
				}
				outb(port, cur)
			},
			interruptOther: func(vector uint8) {
				// the legacy 8259 has no IPI capability; multiprocessor
				// bootstrap (C12) does not use Legacy8259 on an SMP
				// system, so this is intentionally unreachable there.
			},
		},
	}
}

// NewAPIC builds the local+IO APIC PIC variant. sendIPI delivers an IPI
// via the local APIC's ICR, matching the teacher's cpus_start ICR
// encoding (destination shorthand, trigger mode, delivery mode,
// vector).
func NewAPIC(irqBase uint8, sendIPI func(dest int, vector uint8), eoiFn func(), setMaskFn func(irq int, masked bool)) *PIC {
	return &PIC{
		Kind: Apic,
		ops: ops{
			eoi:         func(vector uint8) { eoiFn() },
			irqToVector: func(irq int) uint8 { return irqBase + uint8(irq) },
			setMask:     setMaskFn,
			interruptOther: func(vector uint8) {
				const destAllButSelf = -3
				sendIPI(destAllButSelf, vector)
			},
		},
	}
}

func (p *PIC) EndOfInterrupt(vector uint8)    { p.ops.eoi(vector) }
func (p *PIC) IRQToVector(irq int) uint8      { return p.ops.irqToVector(irq) }
func (p *PIC) SetMask(irq int, masked bool)   { p.ops.setMask(irq, masked) }
func (p *PIC) InterruptAllOther(vector uint8) { p.ops.interruptOther(vector) }

// CalibrateTimer records the result of the boot-time APIC-timer
// calibration against the 8254 channel 0 (spec.md sec4.5). A no-op for
// Legacy8259, whose timer comes from the 8254 directly and needs no
// calibration.
func (p *PIC) CalibrateTimer(ticksPerSchedTick uint64) {
	if p.Kind != Apic {
		return
	}
	p.ticksPerSchedTick = ticksPerSchedTick
}

func (p *PIC) TicksPerSchedTick() uint64 { return p.ticksPerSchedTick }
