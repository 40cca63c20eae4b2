package vitals

// Parser turns extracted document text into a Bundle.
type Parser struct {
	rules []Rule
}

// NewParser builds a Parser for the given pattern set.
func NewParser(set PatternSet) (*Parser, error) {
	rules, err := RulesFor(set)
	if err != nil {
		return nil, err
	}
	return &Parser{rules: rules}, nil
}

// Parse applies every rule independently. The result always holds all four
// kinds; a kind with no match is NoMatch.
func (p *Parser) Parse(text string) Bundle {
	b := make(Bundle, len(Kinds))
	for _, k := range Kinds {
		b[k] = NoMatch
	}
	for _, r := range p.rules {
		b[r.Kind] = r.Apply(text)
	}
	return b
}
