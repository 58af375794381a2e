package flow

// Config defines a workflow: an ordered list of node definitions, the
// initial context seeded into every run, and a workflow identifier.
// The first node in Nodes is the entry point. Config is built once and
// treated as immutable; the engine compiles it into a registry per run.
type Config struct {
	// WorkflowID identifies the workflow definition. Recorded on every
	// execution so runs can be grouped and resumed against the right
	// definition.
	WorkflowID string

	// Nodes is the workflow graph. Names must be unique and must not
	// collide with the End/ErrorNode sentinels.
	Nodes []NodeDef

	// InitialContext seeds the context of each new run. Caller-supplied
	// context passed to Start is merged over it.
	InitialContext map[string]any
}

// Validate statically checks the workflow graph. It is the same check
// the engine performs before running, exposed so definitions can be
// verified at load time.
func (c *Config) Validate() error {
	_, err := buildRegistry(c)
	return err
}

// entryNode returns the name of the first node.
func (c *Config) entryNode() string {
	if len(c.Nodes) == 0 {
		return End
	}
	return c.Nodes[0].Name
}
