package hw

import (
	"context"
	"errors"
	"testing"

	"iot-panel-server/internal/display"
	"iot-panel-server/internal/sensor"
)

func TestSimThroughGateway(t *testing.T) {
	sim := NewSim()
	g := sensor.NewGateway(sim, sim, nil)

	if r := g.ReadDistance(context.Background()); !r.OK() || r.Value != 24.13 {
		t.Errorf("distance = %+v, want 24.13", r)
	}
	if sim.Triggers() != 1 {
		t.Errorf("triggers = %d", sim.Triggers())
	}

	sim.SetEcho(40000, nil)
	if r := g.ReadDistance(context.Background()); r.OK() || !errors.Is(r.Fault, sensor.ErrNoPulse) {
		t.Errorf("over-bound echo = %+v, want no pulse", r)
	}

	sim.SetTemperature(0, errors.New("checksum"))
	if r := g.ReadTemperature(context.Background()); r.OK() {
		t.Errorf("temperature = %+v, want absent", r)
	}
}

func TestSimActuator(t *testing.T) {
	sim := NewSim()
	if sim.Get() {
		t.Fatal("LED should start off")
	}
	sim.Set(true)
	if !sim.Get() {
		t.Error("LED not on")
	}
	sim.SetActuatorError(errors.New("gpio"))
	if err := sim.Set(false); err == nil {
		t.Error("expected actuator error")
	}
	if !sim.Get() {
		t.Error("failed Set changed state")
	}
}

func TestSimDisplay(t *testing.T) {
	sim := NewSim()
	s := display.NewScheduler(sim, nil)
	var hooked int
	sim.OnWrite(func(int, string) { hooked++ })

	if err := s.WriteLine(1, "Temp:23C"); err != nil {
		t.Fatal(err)
	}
	if got := sim.Lines()[1]; got != "Temp:23C        " {
		t.Errorf("line 1 = %q", got)
	}
	if hooked != 1 || sim.Writes() != 1 {
		t.Errorf("hooked = %d writes = %d", hooked, sim.Writes())
	}
	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	if got := sim.Lines()[1]; got != "                " {
		t.Errorf("line 1 after clear = %q", got)
	}
}
