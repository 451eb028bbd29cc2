package workflow

import (
	"context"
	"fmt"
	"sort"
)

// StateMachineBuilder builds a configured state machine
type StateMachineBuilder interface {
	// Configure returns a stage configuration for the given stage
	Configure(stage Stage) StageConfiguration

	// Build creates a new state machine instance with the given initial stage
	Build(initial Stage) StateMachine
}

// StageConfiguration configures transitions leaving a specific stage
type StageConfiguration interface {
	// Permit allows a trigger to transition to the target stage
	Permit(trigger Trigger, to Stage) StageConfiguration
}

type stageConfig struct {
	from        Stage
	transitions map[Trigger]Stage
}

type stateMachineBuilder struct {
	configurations map[Stage]*stageConfig
}

type stateMachine struct {
	current        Stage
	configurations map[Stage]*stageConfig
}

// NewBuilder creates a new state machine builder
func NewBuilder() StateMachineBuilder {
	return &stateMachineBuilder{
		configurations: make(map[Stage]*stageConfig),
	}
}

// Configure returns a stage configuration for the given stage
func (b *stateMachineBuilder) Configure(stage Stage) StageConfiguration {
	if !stage.IsValid() {
		panic(fmt.Sprintf("invalid stage: %s", stage))
	}
	if stage.IsTerminal() {
		panic(fmt.Sprintf("terminal stage cannot have transitions: %s", stage))
	}

	config, exists := b.configurations[stage]
	if !exists {
		config = &stageConfig{
			from:        stage,
			transitions: make(map[Trigger]Stage),
		}
		b.configurations[stage] = config
	}

	return config
}

// Build creates a new state machine instance with the given initial stage
func (b *stateMachineBuilder) Build(initial Stage) StateMachine {
	if !initial.IsValid() {
		panic(fmt.Sprintf("invalid initial stage: %s", initial))
	}

	// Copy so later Configure calls do not leak into built machines
	configsCopy := make(map[Stage]*stageConfig, len(b.configurations))
	for stage, config := range b.configurations {
		transitions := make(map[Trigger]Stage, len(config.transitions))
		for trigger, to := range config.transitions {
			transitions[trigger] = to
		}
		configsCopy[stage] = &stageConfig{from: stage, transitions: transitions}
	}

	return &stateMachine{
		current:        initial,
		configurations: configsCopy,
	}
}

// Permit allows a trigger to transition to the target stage
func (c *stageConfig) Permit(trigger Trigger, to Stage) StageConfiguration {
	if !to.IsValid() {
		panic(fmt.Sprintf("invalid target stage: %s", to))
	}
	if existing, ok := c.transitions[trigger]; ok && existing != to {
		panic(fmt.Sprintf("trigger %s from %s already permitted to %s", trigger, c.from, existing))
	}

	c.transitions[trigger] = to
	return c
}

// State returns the current stage
func (m *stateMachine) State() Stage {
	return m.current
}

// CanFire returns true if the trigger is permitted in the current stage
func (m *stateMachine) CanFire(trigger Trigger) bool {
	config, exists := m.configurations[m.current]
	if !exists {
		return false
	}
	_, ok := config.transitions[trigger]
	return ok
}

// Fire attempts to execute the trigger, transitioning to the new stage if allowed
func (m *stateMachine) Fire(ctx context.Context, trigger Trigger) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	config, exists := m.configurations[m.current]
	if !exists {
		return fmt.Errorf("%w: cannot fire trigger %s from stage %s (no configuration)", ErrInvalidTransition, trigger, m.current)
	}

	to, ok := config.transitions[trigger]
	if !ok {
		return fmt.Errorf("%w: cannot fire trigger %s from stage %s", ErrInvalidTransition, trigger, m.current)
	}

	m.current = to
	return nil
}

// PermittedTriggers returns all triggers that can be fired in the current stage
func (m *stateMachine) PermittedTriggers() []Trigger {
	config, exists := m.configurations[m.current]
	if !exists {
		return []Trigger{}
	}

	triggers := make([]Trigger, 0, len(config.transitions))
	for trigger := range config.transitions {
		triggers = append(triggers, trigger)
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })

	return triggers
}
