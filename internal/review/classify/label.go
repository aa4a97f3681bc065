package classify

type Label string

const (
	None       Label = ""
	Brilliant  Label = "brilliant"
	GreatFind  Label = "greatFind"
	Best       Label = "best"
	Excellent  Label = "excellent"
	Good       Label = "good"
	Book       Label = "book"
	Inaccuracy Label = "inaccuracy"
	Mistake    Label = "mistake"
	Miss       Label = "miss"
	Blunder    Label = "blunder"
	Forced     Label = "forced"
)

// Labels lists every label in report order.
func Labels() []Label {
	return []Label{Brilliant, GreatFind, Best, Excellent, Good, Book, Inaccuracy, Mistake, Miss, Blunder, Forced}
}

func (l Label) Valid() bool {
	for _, v := range Labels() {
		if v == l {
			return true
		}
	}
	return false
}

func (l Label) String() string { return string(l) }

func (l Label) in(set ...Label) bool {
	for _, v := range set {
		if l == v {
			return true
		}
	}
	return false
}
