package statemachine

// Build assembles a Definition from a set of states constructed in code
// (as opposed to parsed from a definition file via package lang) and
// validates it. This mirrors the teacher's Define(State, ...State)
// entrypoint, generalized from a fixed two-arg signature to a name,
// description and a slice of already-built states.
func Build(name, description string, states ...*State) (*Definition, error) {
	def := NewDefinition(name, description)
	for _, s := range states {
		if err := def.AddState(s); err != nil {
			return nil, err
		}
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}
