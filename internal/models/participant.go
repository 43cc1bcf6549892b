package models

// Participant is a rated entity: a player for six-mans and player ratings,
// or a team for the ladder. ID is the stable external id (a Discord snowflake
// or a team id) and is also the key of the persisted participants document.
type Participant struct {
	ID     string `json:"-"`
	Name   string `json:"name"`
	Rating int    `json:"rating"`
	Wins   int    `json:"wins"`
	Losses int    `json:"losses"`

	// Tier is an optional skill tier used to filter leaderboards.
	Tier string `json:"tier,omitempty"`

	// Seq orders participants by registration; leaderboard ties keep it.
	Seq int64 `json:"seq,omitempty"`
}

// Games returns the number of decided games the participant has played.
func (p Participant) Games() int {
	return p.Wins + p.Losses
}
