// Package notify renders user-facing notices and fans events out to log
// lines and signed webhooks.
package notify

// Indicator colours understood by the ERP desk.
const (
	IndicatorGreen = "green"
	IndicatorRed   = "red"
	IndicatorBlue  = "blue"
)

// Notice is the message shown to the user after an action.
type Notice struct {
	Title     string `json:"title"`
	Message   string `json:"message"`
	Indicator string `json:"indicator"`
}

// Success builds a green notice.
func Success(title, msg string) Notice {
	return Notice{Title: title, Message: msg, Indicator: IndicatorGreen}
}

// Failure builds a red notice.
func Failure(title, msg string) Notice {
	return Notice{Title: title, Message: msg, Indicator: IndicatorRed}
}

// Info builds a blue notice, used for accepted background work.
func Info(title, msg string) Notice {
	return Notice{Title: title, Message: msg, Indicator: IndicatorBlue}
}
