package loader

// State is the load state of one module name within a generation.
type State int

const (
	StateUnseen State = iota
	StateLocated
	StateImportFailed
	StateImported
	StateVirtualDisabled
	StateRegistered
	// StateExcluded marks a module removed by the disabled-module list.
	StateExcluded
)

func (s State) String() string {
	switch s {
	case StateLocated:
		return "located"
	case StateImportFailed:
		return "import_failed"
	case StateImported:
		return "imported"
	case StateVirtualDisabled:
		return "virtual_disabled"
	case StateRegistered:
		return "registered"
	case StateExcluded:
		return "excluded"
	default:
		return "unseen"
	}
}
