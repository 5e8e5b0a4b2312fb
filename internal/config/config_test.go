package config

import "testing"

func validLayout() SwitchConfig {
	return SwitchConfig{
		Ports: []PortConfig{
			{Index: 0, Type: PortUSP},
			{Index: 1, Type: PortDSP},
			{Index: 2, Type: PortDSP},
		},
		VCSs: []VCSConfig{
			{UpstreamPortIndex: 0, VppbCount: 2, InitialBounds: []int{1, -1}},
		},
	}
}

func TestValidateAcceptsWellFormedLayout(t *testing.T) {
	c := validLayout()
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsNonUSPUpstream(t *testing.T) {
	c := validLayout()
	c.VCSs[0].UpstreamPortIndex = 1 // a DSP
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for a DSP used as upstream")
	}
}

func TestValidateRejectsNonDSPBindTarget(t *testing.T) {
	c := validLayout()
	c.VCSs[0].InitialBounds = []int{0, -1} // port 0 is the USP, not a DSP
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for binding to a non-DSP port")
	}
}

func TestValidateRejectsUndeclaredPort(t *testing.T) {
	c := validLayout()
	c.VCSs[0].UpstreamPortIndex = 99
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for an undeclared port reference")
	}
}

func TestValidateRejectsOversizeInitialBounds(t *testing.T) {
	c := validLayout()
	c.VCSs[0].InitialBounds = []int{1, -1, 2}
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error when initial_bounds exceeds vppb_count")
	}
}

func TestStoreReloadNotifiesListeners(t *testing.T) {
	s := NewStore(validLayout())
	if s.ID() == "" {
		t.Fatal("expected a non-empty store id")
	}
	var got SwitchConfig
	s.OnReload(func(c SwitchConfig) { got = c })

	next := validLayout()
	next.VCSs[0].InitialBounds = []int{-1, -1}
	s.Replace(next)

	if len(got.VCSs[0].InitialBounds) != 2 || got.VCSs[0].InitialBounds[0] != -1 {
		t.Fatalf("listener did not observe replaced config: %+v", got)
	}
	if s.Snapshot().VCSs[0].InitialBounds[0] != -1 {
		t.Fatal("snapshot did not reflect replaced config")
	}
}
