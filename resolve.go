package bouncer

// Event sources recognized by the resolver.
const (
	SourceComment = "comment"
	SourceFlag    = "flag"
)

// ResolveConfigurations picks which of an installation's configurations
// should receive an event for the given comment.
//
// For a "comment" event, NEW configurations always match; PREMOD
// configurations match a premoderated comment and REPORTED configurations
// match a system-withheld one. For a "flag" event, REPORTED configurations
// match only while the comment is still unmoderated; a comment that has
// already been triaged produces nothing.
//
// Candidates are expected to be non-disabled configurations belonging to the
// comment's installation (the shape ConfigurationStore.ByInstallation
// returns).
func ResolveConfigurations(candidates []*Configuration, comment *Comment, source string) ([]*Configuration, error) {
	types := make(map[ConfigType]bool)

	switch source {
	case SourceComment:
		types[ConfigTypeNew] = true
		switch comment.Status {
		case StatusPremod:
			types[ConfigTypePremod] = true
		case StatusSystemWithheld:
			types[ConfigTypeReported] = true
		}

	case SourceFlag:
		if comment.Status != StatusNone {
			return nil, nil
		}
		types[ConfigTypeReported] = true

	default:
		return nil, ErrInvalidSource
	}

	var result []*Configuration
	for _, c := range candidates {
		if c.Disabled {
			continue
		}
		if types[c.Type] {
			result = append(result, c)
		}
	}
	return result, nil
}
