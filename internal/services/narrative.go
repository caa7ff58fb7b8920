package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/bobby-s-dev/weather-insights/internal/models"
)

var trendPhrases = map[models.Trend]string{
	models.TrendRising:  "em alta",
	models.TrendFalling: "em queda",
	models.TrendStable:  "estável",
}

// comfortAdvice is keyed by the default temperature band labels.
var comfortAdvice = map[string]string{
	"frio":      "Recomenda-se usar agasalhos ao sair.",
	"agradável": "As condições são favoráveis para atividades ao ar livre.",
	"quente":    "Mantenha-se hidratado e evite exposição ao sol nos horários mais quentes.",
}

const defaultAdvice = "Acompanhe as próximas atualizações antes de planejar atividades ao ar livre."

// NarrativeInput is everything a narrative is built from.
type NarrativeInput struct {
	LocationName   string
	Period         time.Duration
	Window         models.AggregateWindow
	Classification string
	Alerts         []models.Alert
	ComfortScore   int
}

// BuildPrompt renders the language model prompt. Equal inputs give equal
// prompts.
func BuildPrompt(in NarrativeInput) string {
	var b strings.Builder
	w := in.Window

	fmt.Fprintf(&b, "Local: %s\n", in.LocationName)
	fmt.Fprintf(&b, "Período: %s\n", FormatPeriod(in.Period))
	fmt.Fprintf(&b, "Amostras: %d\n", w.SampleCount)
	fmt.Fprintf(&b, "Temperatura média: %.1f°C (mín %.1f°C, máx %.1f°C)\n", w.AvgTemp, w.MinTemp, w.MaxTemp)
	fmt.Fprintf(&b, "Umidade média: %.0f%%\n", w.AvgHumidity)
	fmt.Fprintf(&b, "Vento médio: %.1f km/h\n", w.AvgWind)
	fmt.Fprintf(&b, "Probabilidade média de chuva: %.0f%%\n", w.AvgPrecipitation)
	fmt.Fprintf(&b, "Condição predominante: %s\n", w.DominantCondition)
	fmt.Fprintf(&b, "Tendência: %s\n", trendPhrases[w.Trend])
	fmt.Fprintf(&b, "Classificação: %s\n", in.Classification)
	fmt.Fprintf(&b, "Índice de conforto: %d/100\n", in.ComfortScore)

	if len(in.Alerts) == 0 {
		b.WriteString("Alertas: nenhum\n")
	} else {
		b.WriteString("Alertas:\n")
		for _, a := range in.Alerts {
			fmt.Fprintf(&b, "- [%s] %s\n", a.Severity, a.Message)
		}
	}

	b.WriteString("Escreva um resumo do clima com recomendações práticas.")
	return b.String()
}

// FallbackNarrative builds the template narrative. It never fails and never
// returns an empty string.
func FallbackNarrative(in NarrativeInput) string {
	name := in.LocationName
	if name == "" {
		name = "o local monitorado"
	}
	w := in.Window

	if w.Empty() {
		return fmt.Sprintf("Não há observações para %s nas últimas %s. "+
			"Não é possível avaliar o conforto térmico até que novas medições sejam coletadas.",
			name, FormatPeriod(in.Period))
	}

	sentences := []string{
		fmt.Sprintf("Em %s, a temperatura média nas últimas %s foi de %.1f°C (mínima de %.1f°C e máxima de %.1f°C), com clima %s e tendência %s.",
			name, FormatPeriod(in.Period), w.AvgTemp, w.MinTemp, w.MaxTemp, in.Classification, trendPhrase(w.Trend)),
	}

	for _, a := range in.Alerts {
		sentences = append(sentences, fmt.Sprintf("%s: %s.", severityLead(a.Severity), a.Message))
	}

	advice, ok := comfortAdvice[in.Classification]
	if !ok {
		advice = defaultAdvice
	}
	sentences = append(sentences, advice)
	sentences = append(sentences, fmt.Sprintf("Índice de conforto: %d/100.", in.ComfortScore))

	return strings.Join(sentences, " ")
}

func trendPhrase(t models.Trend) string {
	if phrase, ok := trendPhrases[t]; ok {
		return phrase
	}
	return trendPhrases[models.TrendStable]
}

func severityLead(s models.Severity) string {
	switch s {
	case models.SeverityDanger:
		return "Perigo"
	case models.SeverityWarning:
		return "Atenção"
	default:
		return "Aviso"
	}
}

// FormatPeriod renders a lookback in Portuguese, e.g. "24 horas" or "7 dias".
func FormatPeriod(d time.Duration) string {
	switch {
	case d >= 48*time.Hour && d%(24*time.Hour) == 0:
		return fmt.Sprintf("%d dias", int(d/(24*time.Hour)))
	case d >= 2*time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%d horas", int(d/time.Hour))
	case d == time.Hour:
		return "1 hora"
	case d >= 2*time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%d minutos", int(d/time.Minute))
	default:
		return d.String()
	}
}
