package core

// Vocabulary is the closed set of labels the external classifier may return.
var Vocabulary = []string{
	"groceries",
	"dining_out",
	"utilities",
	"transportation",
	"entertainment",
	"healthcare",
	"shopping",
	"housing",
	"education",
	"miscellaneous",
}

// IsKnownCategory reports whether name belongs to Vocabulary.
func IsKnownCategory(name string) bool {
	for _, v := range Vocabulary {
		if v == name {
			return true
		}
	}
	return false
}
