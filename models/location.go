package models

// State is the top level of the location hierarchy.
type State struct {
	ID   int64
	Name string
	Slug string
}

// City belongs to exactly one State.
type City struct {
	ID      int64
	StateID int64
	Name    string
	Slug    string
}

// Area is a neighbourhood within a City. StateID is denormalised from the
// parent city so lookups never need a join.
type Area struct {
	ID      int64
	CityID  int64
	StateID int64
	Name    string
	Slug    string
}

// LocationLevel is the granularity a location was resolved or searched at.
type LocationLevel int

const (
	LevelUnresolved LocationLevel = iota
	LevelState
	LevelCity
	LevelArea
)

func (l LocationLevel) String() string {
	switch l {
	case LevelArea:
		return "area"
	case LevelCity:
		return "city"
	case LevelState:
		return "state"
	default:
		return "unresolved"
	}
}

// ResolvedLocation is the outcome of mapping free text onto the hierarchy.
type ResolvedLocation struct {
	Level   LocationLevel
	AreaID  int64
	CityID  int64
	StateID int64
}

// Resolved reports whether any usable level was found.
func (r ResolvedLocation) Resolved() bool {
	return r.Level != LevelUnresolved
}
