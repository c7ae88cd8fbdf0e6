package domain

import "testing"

func TestComputeFlags_Start(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
		want bool
	}{
		{"no inbound is start", Definition{}, true},
		{"inbound present is not start", Definition{Inbound: []SequenceFlow{{ID: "f1"}}}, false},
		{"attached-to is not start", Definition{AttachedTo: "a1"}, false},
		{"triggered-by-event is not start", Definition{IsTriggeredByEvent: true}, false},
		{"for-compensation is not start", Definition{IsForCompensation: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeFlags(tt.def).IsStart
			if got != tt.want {
				t.Errorf("IsStart = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComputeFlags_End(t *testing.T) {
	f := ComputeFlags(Definition{})
	if !f.IsEnd {
		t.Error("expected IsEnd true with no outbound flows")
	}
	f = ComputeFlags(Definition{Outbound: []SequenceFlow{{ID: "f1"}}})
	if f.IsEnd {
		t.Error("expected IsEnd false with outbound flows present")
	}
}

func TestComputeFlags_ParallelJoin(t *testing.T) {
	tests := []struct {
		name     string
		gateway  bool
		inbound  int
		wantJoin bool
	}{
		{"not a gateway", false, 2, false},
		{"gateway single inbound", true, 1, false},
		{"gateway two inbound", true, 2, true},
		{"gateway three inbound", true, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inbound := make([]SequenceFlow, tt.inbound)
			got := ComputeFlags(Definition{IsParallelGateway: tt.gateway, Inbound: inbound}).IsParallelJoin
			if got != tt.wantJoin {
				t.Errorf("IsParallelJoin = %v, want %v", got, tt.wantJoin)
			}
		})
	}
}

func TestActivityError_Unwrap(t *testing.T) {
	inner := ErrNoFlowTaken
	err := NewActivityError("task1", inner)
	if err.Unwrap() != inner {
		t.Error("Unwrap should return the inner error")
	}
	if err.Error() == "" {
		t.Error("Error() should not be empty")
	}
}
