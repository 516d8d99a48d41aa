package ai

// classifierSystemPrompt frames the model as the ombudsman's triage assistant.
const classifierSystemPrompt = "Você é um assistente para uma ouvidoria universitária. Recebe relatos sobre situações de preconceito, discriminação, violência simbólica e outros problemas no ambiente acadêmico."

// classifierUserPrompt embeds the report verbatim between triple quotes.
// The report is not escaped, so a report containing `"""` can break the framing.
const classifierUserPrompt = `Analise o relato abaixo e execute duas tarefas:
1. Classifique o tipo de manifestação: (Exemplos: Racismo, LGBTfobia, Assédio, Capacitismo, Outro).
2. Classifique o nível de gravidade: (Baixa, Média, Alta).

Retorne a resposta no seguinte formato:
---
DADOS PARA O BANCO/EXCEL
Tipo de manifestação: [Tipo]
Nível de gravidade: [Gravidade]
Análise: [Análise breve e empática]
---

Relato:
"""{report}"""`
