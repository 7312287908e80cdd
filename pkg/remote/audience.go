package remote

// Audience is a record of the _Audience class: a saved installation query
// that pushes can target.
type Audience struct {
	Object
}

// NewAudience returns an unsaved audience named name selecting the
// installations matched by q.
func NewAudience(name string, q *Query) (*Audience, error) {
	a := &Audience{}
	a.init(AudienceClass, "")
	if err := a.Set("name", name); err != nil {
		return nil, err
	}
	if err := a.SetQuery(q); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Audience) Name() string {
	s, _ := a.GetString("name")
	return s
}

// SetQuery stores q's where-map as the audience query.
func (a *Audience) SetQuery(q *Query) error {
	w, err := q.Where()
	if err != nil {
		return err
	}
	s, err := jsonString(w)
	if err != nil {
		return err
	}
	return a.Set("query", s)
}

// Query returns the stored where-map as a query over installations.
func (a *Audience) Query() (*Query, error) {
	s, err := a.GetString("query")
	if err != nil {
		return nil, err
	}
	q := NewQuery(InstallationClass)
	if s == "" {
		return q, nil
	}
	var where map[string]any
	if err := decodeJSON([]byte(s), &where); err != nil {
		return nil, err
	}
	dec, err := Decode(where)
	if err != nil {
		return nil, err
	}
	q.where = dec.(map[string]any)
	return q, nil
}

func (a *Audience) beforeSave() error {
	if a.Name() == "" {
		return &Error{Code: ValidationFailed, Message: "audiences must have a name"}
	}
	return nil
}
