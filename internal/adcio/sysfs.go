package adcio

import (
	"fmt"
	"os"
	"strings"
)

// SysfsGPIO drives the three ADC lines through the Linux sysfs GPIO
// interface (/sys/class/gpio), the same mechanism gpiozero uses under
// the hood in the original driver. No GPIO library appears anywhere
// in the example pack, so this concern is implemented directly on the
// syscalls/files the kernel exposes rather than against a third-party
// API — see DESIGN.md.
type SysfsGPIO struct {
	resetNPath string
	nextNPath  string
	dataPath   string
}

// NewSysfsGPIO exports the three given GPIO line numbers and returns a
// GPIO driving them as reset_n/next_n (outputs) and data (input).
func NewSysfsGPIO(resetN, nextN, data int) (*SysfsGPIO, error) {
	for _, line := range []int{resetN, nextN, data} {
		if err := exportLine(line); err != nil {
			return nil, err
		}
	}
	if err := setDirection(resetN, "out"); err != nil {
		return nil, err
	}
	if err := setDirection(nextN, "out"); err != nil {
		return nil, err
	}
	if err := setDirection(data, "in"); err != nil {
		return nil, err
	}

	return &SysfsGPIO{
		resetNPath: valuePath(resetN),
		nextNPath:  valuePath(nextN),
		dataPath:   valuePath(data),
	}, nil
}

func gpioPath(line int) string      { return fmt.Sprintf("/sys/class/gpio/gpio%d", line) }
func valuePath(line int) string     { return gpioPath(line) + "/value" }
func exportLine(line int) error {
	if _, err := os.Stat(gpioPath(line)); err == nil {
		return nil
	}
	return os.WriteFile("/sys/class/gpio/export", []byte(fmt.Sprintf("%d", line)), 0644)
}

func setDirection(line int, dir string) error {
	return os.WriteFile(gpioPath(line)+"/direction", []byte(dir), 0644)
}

func writeValue(path string, high bool) error {
	v := "0"
	if high {
		v = "1"
	}
	return os.WriteFile(path, []byte(v), 0644)
}

func (g *SysfsGPIO) SetResetN(high bool) { _ = writeValue(g.resetNPath, high) }
func (g *SysfsGPIO) SetNextN(high bool)  { _ = writeValue(g.nextNPath, high) }

func (g *SysfsGPIO) ReadData() bool {
	b, err := os.ReadFile(g.dataPath)
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(b)) == "1"
}

var _ GPIO = (*SysfsGPIO)(nil)
