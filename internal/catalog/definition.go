package catalog

// Reference names a relation column pointing at a catalog table. Used for
// proactive in-use counting before delete and for the usage ranking.
type Reference struct {
	Table  string
	Column string
}

// Definition parameterizes the catalog template for one resource.
type Definition struct {
	// Singular resource name used in errors and logs ("race").
	Singular string
	// Path is the route segment and cache prefix ("races").
	Path string
	// Table is the backing relation.
	Table string
	// Refs are the relation columns that count as usage.
	Refs []Reference
}

// Definitions lists the five catalog resources served by this template.
func Definitions() []Definition {
	return []Definition{
		{
			Singular: "race", Path: "races", Table: "races",
			Refs: []Reference{{Table: "characters", Column: "race_id"}},
		},
		{
			Singular: "archetype", Path: "archetypes", Table: "archetypes",
			Refs: []Reference{{Table: "characters", Column: "archetype_id"}},
		},
		{
			Singular: "perk", Path: "perks", Table: "perks",
			Refs: []Reference{{Table: "character_perks", Column: "perk_id"}},
		},
		{
			Singular: "skill", Path: "skills", Table: "skills",
			Refs: []Reference{{Table: "character_skills", Column: "skill_id"}},
		},
		{
			Singular: "tag", Path: "tags", Table: "tags",
			Refs: []Reference{
				{Table: "item_tags", Column: "tag_id"},
				{Table: "character_tags", Column: "tag_id"},
			},
		},
	}
}
