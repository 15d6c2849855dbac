package speech

import (
	"fmt"
	"strconv"
	"strings"
)

var scriptEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	`"`, `\"`,
	"<", `\x3C`,
	"\r\n", " ",
	"\n", " ",
	"\r", " ",
	"\u2028", `\u2028`,
	"\u2029", `\u2029`,
)

// EscapeScriptLiteral makes s safe inside a quoted JavaScript string that
// is itself embedded in an HTML <script> element. Every '<' is escaped so
// neither a closing tag nor a comment opener reaches the HTML parser. Line
// breaks are read as spaces.
func EscapeScriptLiteral(s string) string {
	return scriptEscaper.Replace(s)
}

func RenderSpeechScript(u Utterance) string {
	return fmt.Sprintf(`<script>
(function () {
  var synth = window.speechSynthesis;
  synth.cancel();
  var u = new SpeechSynthesisUtterance('%s');
  u.rate = %s;
  u.volume = %s;
  synth.speak(u);
})();
</script>`, EscapeScriptLiteral(u.Text), formatNumber(u.Rate), formatNumber(u.Volume))
}

func RenderCancelScript() string {
	return "<script>window.speechSynthesis.cancel();</script>"
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
