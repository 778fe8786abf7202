package ordernumber

// Field is the order-number form value. In auto mode it follows the feed; once
// the user edits it away from the last auto value it is owned by the user and
// feed updates are ignored until ResetAuto.
type Field struct {
	value    string
	lastAuto string
	custom   bool
}

func NewField() Field {
	return Field{value: Loading}
}

func (f Field) Value() string {
	return f.value
}

func (f Field) IsCustom() bool {
	return f.custom
}

// ApplyAuto records a feed value. It only shows when the field is not custom.
func (f Field) ApplyAuto(value string) Field {
	f.lastAuto = value
	if !f.custom {
		f.value = value
	}
	return f
}

// Edit applies user input. Typing the last auto value back, or the loading
// sentinel, returns the field to auto mode.
func (f Field) Edit(value string) Field {
	f.value = value
	f.custom = value != f.lastAuto && value != Loading
	if !f.custom && f.lastAuto != "" {
		f.value = f.lastAuto
	}
	return f
}

func (f Field) ResetAuto() Field {
	f.custom = false
	if f.lastAuto != "" {
		f.value = f.lastAuto
	} else {
		f.value = Loading
	}
	return f
}
