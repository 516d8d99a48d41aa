package intake

import (
	"fmt"
	"strings"

	model "github.com/ucsal/oraculo-anonimo/internal/model/intake"
)

const (
	badgeAnonymous  = "🕵️ Anônimo"
	badgeIdentified = "👤 Usuário identificado"

	msgAskReport       = "Perfeito! ✍️ Por favor, descreva sua manifestação com o máximo de detalhes possíveis."
	msgInvalidChoice   = "Por favor, responda com `1` (anônimo) ou `2` (identificado)."
	msgCancelled       = "Operação cancelada. Se precisar, envie /start para reiniciar."
	msgNoSession       = "Para registrar uma manifestação, envie /start."
	msgUnknownCommand  = "Comando não reconhecido. Use /start para iniciar ou /cancel para cancelar."
	msgClassifyFailure = "😔 Não foi possível analisar sua manifestação agora. Por favor, envie o relato novamente em alguns instantes ou use /cancel para encerrar."
	msgUnstructured    = "⚠️ A análise automática não retornou todos os campos esperados; a equipe da ouvidoria fará a classificação manualmente."
)

func welcomeMessage(sender model.Sender) string {
	greeting := "Olá! 👋"
	if name := displayName(sender); name != "" {
		greeting = fmt.Sprintf("Olá %s! 👋", name)
	}
	return greeting +
		"\n\nBem-vindo ao Oráculo Anônimo da UCSal.\n\n" +
		"Deseja realizar sua manifestação de forma:\n" +
		"1️⃣ Anônima\n2️⃣ Identificada\n\n" +
		"Responda com: `1` ou `2`."
}

func displayName(sender model.Sender) string {
	if name := strings.TrimSpace(sender.DisplayName); name != "" {
		return name
	}
	if handle := strings.TrimSpace(sender.Handle); handle != "" {
		return "@" + handle
	}
	return ""
}

// Badge labels the final acknowledgment according to the identification choice.
func Badge(anonymous bool, sender model.Sender) string {
	if anonymous {
		return badgeAnonymous
	}
	if handle := strings.TrimPrefix(strings.TrimSpace(sender.Handle), "@"); handle != "" {
		return "👤 @" + handle
	}
	return badgeIdentified
}

func acknowledgment(badge string, result model.ClassificationResult) string {
	var b strings.Builder
	b.WriteString("✅ Sua manifestação foi registrada!\n\n")
	b.WriteString(badge)
	b.WriteString("\n\n🔎 Resultado da análise automática:\n\n")
	b.WriteString(result.Raw)
	b.WriteString("\n\n")
	if !result.Structured {
		b.WriteString(msgUnstructured)
		b.WriteString("\n\n")
	}
	b.WriteString("📢 A equipe da ouvidoria irá avaliar seu caso.")
	return b.String()
}
