package viber

import (
	"fmt"

	"github.com/m3rciful/botengine/core/engine"
)

type keyboard struct {
	Type          string           `json:"Type"`
	BgColor       string           `json:"BgColor"`
	MinAPIVersion int              `json:"min_api_version"`
	Buttons       []keyboardButton `json:"Buttons"`
}

type keyboardButton struct {
	Columns      int    `json:"Columns"`
	Rows         int    `json:"Rows"`
	BgColor      string `json:"BgColor"`
	ActionType   string `json:"ActionType"`
	ActionBody   string `json:"ActionBody"`
	Text         string `json:"Text"`
	TextVAlign   string `json:"TextVAlign"`
	TextHAlign   string `json:"TextHAlign"`
	TextOpacity  int    `json:"TextOpacity"`
	TextSize     string `json:"TextSize"`
	TextPaddings []int  `json:"TextPaddings"`
}

// buildKeyboard renders buttons as reply buttons whose ActionBody is the
// button command, three to a row.
func buildKeyboard(buttons []engine.Button) *keyboard {
	if len(buttons) == 0 {
		return nil
	}
	kb := &keyboard{Type: "keyboard", BgColor: "#ffffff", MinAPIVersion: minAPIVersion}
	for _, b := range buttons {
		kb.Buttons = append(kb.Buttons, keyboardButton{
			Columns:      2,
			Rows:         1,
			BgColor:      "#aaaaaa",
			ActionType:   "reply",
			ActionBody:   b.Command,
			Text:         fmt.Sprintf(`<font color="#131313"><b>%s</b></font>`, b.Label()),
			TextVAlign:   "middle",
			TextHAlign:   "center",
			TextOpacity:  60,
			TextSize:     "large",
			TextPaddings: []int{12, 8, 8, 20},
		})
	}
	return kb
}
