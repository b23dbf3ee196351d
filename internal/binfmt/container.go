package binfmt

import (
	"fmt"
	"runtime"

	"aotc/internal/log"
)

// Container owns the fixed catalogue of sections. It is populated by the
// single assembler thread after the parallel phase; Finalize serializes the
// sections into a native object file and closes the container for good.
type Container struct {
	sections [kindCount]*Section
	closed   bool
}

// NewContainer pre-declares every section of the catalogue, empty.
func NewContainer() *Container {
	c := &Container{}
	for i := range c.sections {
		c.sections[i] = &Section{kind: Kind(i), container: c}
	}
	return c
}

// Section returns the section for kind. The same value is returned for the
// container's whole lifetime.
func (c *Container) Section(k Kind) *Section {
	if k < 0 || k >= kindCount {
		panic(fmt.Sprintf("binfmt: unknown section kind %d", int(k)))
	}
	return c.sections[k]
}

// Closed reports whether Finalize already ran.
func (c *Container) Closed() bool { return c.closed }

// ReportSizes prints every section's name and byte length at verbose level.
func (c *Container) ReportSizes(logger *log.Logger) {
	for _, k := range Layout() {
		logger.Verbosef("%s: %d bytes", k, c.sections[k].Size())
	}
}

// objectFormat selects the host object-file convention. This switch and the
// writers behind it are the only place object-format layout logic lives.
func objectFormat(goos string) (func(path string, c *Container) error, error) {
	switch goos {
	case "linux", "solaris", "illumos":
		return writeELF, nil
	case "darwin":
		return writeMachO, nil
	case "windows":
		return writeCOFF, nil
	default:
		return nil, fmt.Errorf("unsupported platform: %s", goos)
	}
}

// Finalize serializes all sections, in their fixed layout order, into a
// native relocatable object file at path, then closes the container and
// releases the section buffers. Any section write after Finalize panics.
func (c *Container) Finalize(path string) error {
	if c.closed {
		panic("binfmt: container finalized twice")
	}
	write, err := objectFormat(runtime.GOOS)
	if err != nil {
		return err
	}
	if err := write(path, c); err != nil {
		return fmt.Errorf("failed to create binary %s: %w", path, err)
	}
	c.closed = true
	for _, s := range c.sections {
		s.buf = nil
	}
	return nil
}

// nonEmpty returns the sections with content, in layout order.
func (c *Container) nonEmpty() []*Section {
	var out []*Section
	for _, k := range Layout() {
		if s := c.sections[k]; s.Size() > 0 {
			out = append(out, s)
		}
	}
	return out
}
