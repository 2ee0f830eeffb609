package oracle

import (
	"testing"

	"github.com/epax-io/epax/internal/instance"
)

func TestNewOnEmptyOracleHasNoDeps(t *testing.T) {
	o := NewAllInterfere()
	self := instance.Instance{LeaderIndex: 0, InstanceNumber: 0}
	seq, deps := o.New(self, instance.CommandOrNoop{})
	if seq != 1 {
		t.Errorf("seq = %d, want 1", seq)
	}
	if len(deps) != 0 {
		t.Errorf("deps = %v, want empty", deps)
	}
}

func TestObserveMakesFutureCommandsInterfere(t *testing.T) {
	o := NewAllInterfere()
	i0 := instance.Instance{LeaderIndex: 0, InstanceNumber: 0}
	i1 := instance.Instance{LeaderIndex: 1, InstanceNumber: 0}

	o.Observe(i0, instance.CommandOrNoop{Command: instance.Command{Payload: []byte("x")}}, 5)

	seq, deps := o.New(i1, instance.CommandOrNoop{})
	if !deps.Contains(i0) {
		t.Errorf("expected new command to depend on observed instance %v", i0)
	}
	if seq != 6 {
		t.Errorf("seq = %d, want 6", seq)
	}
}

func TestNoopsAreNotTrackedAsInterferers(t *testing.T) {
	o := NewAllInterfere()
	i0 := instance.Instance{LeaderIndex: 0, InstanceNumber: 0}
	i1 := instance.Instance{LeaderIndex: 1, InstanceNumber: 0}

	o.Observe(i0, instance.CommandOrNoop{Noop: true}, 5)

	_, deps := o.New(i1, instance.CommandOrNoop{})
	if deps.Contains(i0) {
		t.Errorf("noop instance should not be tracked as an interferer")
	}
}

func TestExtendUnionsAndTakesMaxSeq(t *testing.T) {
	o := NewAllInterfere()
	self := instance.Instance{LeaderIndex: 2, InstanceNumber: 0}
	known := instance.Instance{LeaderIndex: 0, InstanceNumber: 1}
	o.Observe(known, instance.CommandOrNoop{Command: instance.Command{Payload: []byte("y")}}, 10)

	proposedDeps := instance.NewSet(instance.Instance{LeaderIndex: 1, InstanceNumber: 2})
	seq, deps := o.Extend(self, instance.CommandOrNoop{}, 3, proposedDeps)

	if seq != 11 { // max(3, 10+1)
		t.Errorf("seq = %d, want 11", seq)
	}
	if !deps.Contains(known) || len(deps) != 2 {
		t.Errorf("deps = %v, want union containing %v and the proposed dep", deps, known)
	}
}

func TestForgetStopsTrackingAnInstance(t *testing.T) {
	o := NewAllInterfere()
	i0 := instance.Instance{LeaderIndex: 0, InstanceNumber: 0}
	i1 := instance.Instance{LeaderIndex: 1, InstanceNumber: 0}

	o.Observe(i0, instance.CommandOrNoop{Command: instance.Command{Payload: []byte("z")}}, 1)
	o.Forget(i0)

	_, deps := o.New(i1, instance.CommandOrNoop{})
	if deps.Contains(i0) {
		t.Errorf("forgotten instance should no longer interfere")
	}
}
