package progress

import "strings"

// Per-user fields under usr:<id>:<field>.
const (
	fieldCompleted  = "completed"
	fieldDuration   = "dur"
	fieldBest       = "best"
	fieldLastDate   = "lastDate"
	fieldStreak     = "streak"
	fieldMaxStreak  = "maxstreak"
	fieldScoreTotal = "scoreTotal"
	fieldCoins      = "coins"
	fieldReveals    = "reveal"
	fieldChecks     = "checks"
	fieldWrong      = "wrong"
	fieldLetters    = "letters"
	fieldScores     = "scores"
	fieldLastThemes = "lastThemes"
)

const (
	FamilyGenerated = "generated"
	FamilyCompleted = "completed"
)

func userKey(userID, field string) string {
	return "usr:" + userID + ":" + field
}

func weeklyKey(userID, namespace string) string {
	return userKey(userID, "special:"+namespace+":lastWeek")
}

// globalKey builds games:<family>[:<part>...]. Namespaces never start with a
// digit, so games:completed:<ns> cannot collide with games:completed:<day>.
func globalKey(family string, parts ...string) string {
	var b strings.Builder
	b.WriteString("games:")
	b.WriteString(family)
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}

// SeriesName names a timeseries: the family alone or family:namespace.
func SeriesName(family, namespace string) string {
	if namespace == "" {
		return family
	}
	return family + ":" + namespace
}
