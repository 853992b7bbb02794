package entities

// RelationType classifies the relationship an edge expresses between two nodes
type RelationType string

const (
	// RelationDependsOn represents a dependency between nodes
	RelationDependsOn RelationType = "depends_on"

	// RelationReferences represents a reference connection
	RelationReferences RelationType = "references"

	// RelationContains represents a parent-child relationship
	RelationContains RelationType = "contains"

	// RelationFollows represents a temporal ordering between nodes
	RelationFollows RelationType = "follows"

	// RelationRelated represents a generic association
	RelationRelated RelationType = "related"
)

// IsValid checks if the relation type is valid
func (r RelationType) IsValid() bool {
	switch r {
	case RelationDependsOn, RelationReferences, RelationContains,
		RelationFollows, RelationRelated:
		return true
	default:
		return false
	}
}

// String returns the string representation of the relation type
func (r RelationType) String() string {
	return string(r)
}
