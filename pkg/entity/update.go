package entity

// Update is the canonical partial-modification shape: the key of the
// entity to change and the fields to overlay. ID must be present and
// correct even when Changes omits the key field.
type Update struct {
	ID      Key
	Changes Doc
}

// canonicalDoc renders the update for payload serialization.
func (u Update) canonicalDoc() Doc {
	return Doc{
		"id":      u.ID.Value(),
		"changes": u.Changes,
	}
}
