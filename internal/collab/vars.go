package collab

import "strings"

// Vars are the placeholder values substituted into argv templates.
type Vars struct {
	Artifact string
	Unit     string
	ID       string
	Message  string
	Staging  string
}

// Expand substitutes {artifact}, {unit}, {id}, {message} and {staging} in each
// argument. Arguments are never split, so values containing spaces stay intact.
func Expand(argv []string, vars Vars) []string {
	if len(argv) == 0 {
		return nil
	}
	replacer := strings.NewReplacer(
		"{artifact}", vars.Artifact,
		"{unit}", vars.Unit,
		"{id}", vars.ID,
		"{message}", vars.Message,
		"{staging}", vars.Staging,
	)
	out := make([]string, len(argv))
	for i, arg := range argv {
		out[i] = replacer.Replace(arg)
	}
	return out
}
