package teams

// DefaultAliases maps common shorthand to the normalized club name.
// Keys and values are already in Normalize form.
var DefaultAliases = map[string]string{
	"man utd":       "manchester united",
	"man united":    "manchester united",
	"man city":      "manchester city",
	"spurs":         "tottenham hotspur",
	"wolves":        "wolverhampton wanderers",
	"nottm forest":  "nottingham forest",
	"gladbach":      "borussia monchengladbach",
	"bvb":           "borussia dortmund",
	"psg":           "paris saint germain",
	"inter":         "internazionale",
	"atleti":        "atletico madrid",
	"qpr":           "queens park rangers",
	"brighton":      "brighton & hove albion",
	"sheffield utd": "sheffield united",
}
