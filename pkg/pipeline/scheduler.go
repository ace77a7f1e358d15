package pipeline

import (
	"fmt"
	"strings"
)

// schedulerCompatibility groups scheduler classes that are interchangeable
// within a pipeline. A swap between two classes in the same group preserves
// the pipeline's contract; anything else is rejected.
var schedulerCompatibility = [][]string{
	{
		"DDIMScheduler",
		"DDPMScheduler",
		"PNDMScheduler",
		"LMSDiscreteScheduler",
		"EulerDiscreteScheduler",
		"EulerAncestralDiscreteScheduler",
		"HeunDiscreteScheduler",
		"DPMSolverMultistepScheduler",
		"DPMSolverSinglestepScheduler",
		"KDPM2DiscreteScheduler",
		"KDPM2AncestralDiscreteScheduler",
		"DEISMultistepScheduler",
		"UniPCMultistepScheduler",
	},
	{
		"FlowMatchEulerDiscreteScheduler",
		"FlowMatchHeunDiscreteScheduler",
	},
}

// schedulerGroup returns the index of the compatibility group the class
// belongs to, or -1 if the class is not a known scheduler.
func schedulerGroup(class string) int {
	for i, group := range schedulerCompatibility {
		for _, c := range group {
			if c == class {
				return i
			}
		}
	}
	return -1
}

// IsSchedulerClass reports whether the class names a scheduler. Unknown
// classes with the "Scheduler" suffix are treated as schedulers so that
// swaps involving them are validated rather than waved through.
func IsSchedulerClass(class string) bool {
	return schedulerGroup(class) >= 0 || strings.HasSuffix(class, "Scheduler")
}

// CompatibleSchedulers reports whether the two scheduler classes are
// interchangeable.
func CompatibleSchedulers(a, b string) bool {
	ga, gb := schedulerGroup(a), schedulerGroup(b)
	return ga >= 0 && ga == gb
}

// CompatibleWith returns the scheduler classes interchangeable with the
// given class, excluding the class itself. Returns nil for unknown classes.
func CompatibleWith(class string) []string {
	g := schedulerGroup(class)
	if g < 0 {
		return nil
	}
	var out []string
	for _, c := range schedulerCompatibility[g] {
		if c != class {
			out = append(out, c)
		}
	}
	return out
}

// SchedulerComponent is the component implementation for scheduler classes.
// Schedulers are weightless; their identity is their config file.
type SchedulerComponent struct {
	spec   ComponentSpec
	config map[string]interface{}
}

func newSchedulerComponent(spec ComponentSpec) (Component, error) {
	sc := &SchedulerComponent{spec: spec}
	if spec.ConfigPath != "" {
		if err := spec.Config(&sc.config); err != nil {
			return nil, fmt.Errorf("scheduler %q: %w", spec.Name, err)
		}
	}
	return sc, nil
}

// Name implements Component.Name.
func (s *SchedulerComponent) Name() string {
	return s.spec.Name
}

// Ref implements Component.Ref.
func (s *SchedulerComponent) Ref() ComponentRef {
	return s.spec.Ref
}

// Spec returns the resolved spec the component was built from.
func (s *SchedulerComponent) Spec() ComponentSpec {
	return s.spec
}

// ConfigValue returns a value from the scheduler config file.
func (s *SchedulerComponent) ConfigValue(key string) (interface{}, bool) {
	v, ok := s.config[key]
	return v, ok
}

// Compatible reports whether this scheduler can be replaced by the given
// class.
func (s *SchedulerComponent) Compatible(class string) bool {
	return CompatibleSchedulers(s.spec.Ref.Class, class)
}
