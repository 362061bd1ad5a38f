// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package intent

import (
	"strings"
)

// maxPromptChars triggers the compression pass.
const maxPromptChars = 4000

// OptimizerInput carries everything the prompt builder needs.
type OptimizerInput struct {
	Intent        string
	UserText      string
	Keywords      []string
	HasImages     bool
	HasAudio      bool
	HasDocuments  bool
	ModalExcerpts []string // OCR/ASR excerpts merged into the user-data section
}

// domainInstructions are the per-intent system blocks (section 1).
var domainInstructions = map[string]string{
	IntentCreationService: `Tu es un assistant expert en création d'annonces de services sur une marketplace camerounaise.
Ta mission : transformer la demande utilisateur en une fiche service structurée et complète.`,
	IntentRechercheBesoin: `Tu es un assistant expert en compréhension de besoins sur une marketplace camerounaise.
Ta mission : extraire du texte utilisateur un besoin structuré pour la recherche de services.`,
	IntentEchange: `Tu es un assistant expert en trocs et dons sur une marketplace camerounaise.
Ta mission : structurer l'offre et le besoin de l'utilisateur pour le rapprochement automatique.`,
}

const defaultInstructions = `Tu es l'assistant général de la marketplace Yukpo.
Ta mission : aider l'utilisateur en répondant de manière structurée.`

// outputFormats embed the exact JSON shape expected per intent (section 4).
var outputFormats = map[string]string{
	IntentCreationService: `{
  "intention": "creation_service",
  "data": {
    "titre_service": {"type_donnee": "string", "valeur": "...", "origine_champs": "ia"},
    "description": {"type_donnee": "string", "valeur": "...", "origine_champs": "ia"},
    "category": {"type_donnee": "string", "valeur": "...", "origine_champs": "ia"},
    "is_tarissable": {"type_donnee": "boolean", "valeur": false, "origine_champs": "ia"}
  }
}`,
	IntentRechercheBesoin: `{
  "intention": "recherche_besoin",
  "data": {
    "description": {"type_donnee": "string", "valeur": "...", "origine_champs": "ia"},
    "category": {"type_donnee": "string", "valeur": "...", "origine_champs": "ia"},
    "reponse_intelligente": {"type_donnee": "string", "valeur": "...", "origine_champs": "ia"}
  }
}`,
	IntentEchange: `{
  "intention": "echange",
  "data": {
    "offre": {"mode": "echange", "listeproduit": []},
    "besoin": {"mode": "echange", "listeproduit": []}
  }
}`,
}

// fewShotExemplars hold up to two worked examples per intent (section 5).
var fewShotExemplars = map[string][]string{
	IntentCreationService: {
		`Entrée : "Je vends des plats de ndolé livrés à domicile à Douala"
Sortie : {"intention":"creation_service","data":{"titre_service":{"type_donnee":"string","valeur":"Plats de ndolé livrés à domicile","origine_champs":"ia"},"description":{"type_donnee":"string","valeur":"Préparation et livraison de plats de ndolé à domicile sur Douala","origine_champs":"ia"},"category":{"type_donnee":"string","valeur":"Restauration","origine_champs":"ia"},"is_tarissable":{"type_donnee":"boolean","valeur":false,"origine_champs":"ia"}}}`,
	},
	IntentRechercheBesoin: {
		`Entrée : "Je cherche un plombier disponible ce week-end à Yaoundé"
Sortie : {"intention":"recherche_besoin","data":{"description":{"type_donnee":"string","valeur":"Plombier disponible le week-end à Yaoundé","origine_champs":"ia"},"category":{"type_donnee":"string","valeur":"Plomberie","origine_champs":"ia"},"reponse_intelligente":{"type_donnee":"string","valeur":"Recherche de plombiers à Yaoundé","origine_champs":"ia"}}}`,
	},
}

// performancePrefix and formatSuffix target the flagship model's quirks.
const performancePrefix = "[RÉPONSE RAPIDE ET PRÉCISE REQUISE]\n"
const formatSuffix = "\nRAPPEL FINAL : réponds UNIQUEMENT avec le JSON demandé, sans texte autour, sans balises markdown."

// BuildPrompt assembles the optimized prompt: domain instructions,
// enriched context, business template, strict output format, exemplars,
// user data, and quality reminders, in that order. Prompts past the size
// budget go through a compression pass.
func BuildPrompt(in OptimizerInput) string {
	var b strings.Builder

	b.WriteString(performancePrefix)

	// 1. Domain instructions.
	instructions, ok := domainInstructions[in.Intent]
	if !ok {
		instructions = defaultInstructions
	}
	b.WriteString("## INSTRUCTIONS\n")
	b.WriteString(instructions)
	b.WriteString("\n\n")

	// 2. Enriched context.
	b.WriteString("## CONTEXTE\n")
	b.WriteString("Intention détectée : ")
	b.WriteString(in.Intent)
	b.WriteString("\n")
	if len(in.Keywords) > 0 {
		b.WriteString("Mots-clés : ")
		b.WriteString(strings.Join(in.Keywords, ", "))
		b.WriteString("\n")
	}
	writeModalities(&b, in)
	b.WriteString("\n")

	// 3. Business template.
	b.WriteString("## TÂCHE\n")
	b.WriteString("Analyse les données utilisateur et produis le document demandé, ")
	b.WriteString("en français, fidèle au contenu fourni.\n\n")

	// 4. Strict output format.
	if format, ok := outputFormats[in.Intent]; ok {
		b.WriteString("## FORMAT DE SORTIE OBLIGATOIRE\n")
		b.WriteString(format)
		b.WriteString("\n\n")
	}

	// 5. Few-shot exemplars (at most two).
	if exemplars := fewShotExemplars[in.Intent]; len(exemplars) > 0 {
		b.WriteString("## EXEMPLES\n")
		for i, ex := range exemplars {
			if i >= 2 {
				break
			}
			b.WriteString(ex)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	// 6. User data.
	b.WriteString("## DONNÉES UTILISATEUR\n")
	b.WriteString(in.UserText)
	b.WriteString("\n")
	for _, excerpt := range in.ModalExcerpts {
		b.WriteString("[extrait] ")
		b.WriteString(excerpt)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	// 7. Quality reminders.
	b.WriteString("## QUALITÉ\n")
	b.WriteString("- Aucune hallucination : n'invente pas d'informations absentes.\n")
	b.WriteString("- Tous les champs requis doivent être remplis.\n")
	b.WriteString("- JSON uniquement, strictement conforme au format.\n")

	b.WriteString(formatSuffix)

	prompt := b.String()
	if len(prompt) > maxPromptChars {
		prompt = compressPrompt(prompt)
	}
	return prompt
}

func writeModalities(b *strings.Builder, in OptimizerInput) {
	var modes []string
	if in.HasImages {
		modes = append(modes, "images")
	}
	if in.HasAudio {
		modes = append(modes, "audio")
	}
	if in.HasDocuments {
		modes = append(modes, "documents")
	}
	if len(modes) > 0 {
		b.WriteString("Modalités jointes : ")
		b.WriteString(strings.Join(modes, ", "))
		b.WriteString("\n")
	}
}

// compressPrompt keeps headers and critical-marker lines and truncates
// long lines, bringing oversized prompts back under the budget.
func compressPrompt(prompt string) string {
	var kept []string
	for _, line := range strings.Split(prompt, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "##"),
			strings.HasPrefix(trimmed, "["),
			strings.HasPrefix(trimmed, "-"),
			strings.HasPrefix(trimmed, "{"),
			strings.HasPrefix(trimmed, "\""),
			strings.HasPrefix(trimmed, "}"):
			kept = append(kept, truncateLine(line, 200))
		case trimmed == "":
			continue
		default:
			kept = append(kept, truncateLine(line, 120))
		}
	}

	compressed := strings.Join(kept, "\n")
	if len(compressed) > maxPromptChars {
		compressed = compressed[:maxPromptChars]
	}
	return compressed
}

func truncateLine(line string, max int) string {
	if len(line) <= max {
		return line
	}
	return line[:max] + "…"
}

// frenchStopWords excluded from keyword extraction.
var frenchStopWords = map[string]struct{}{
	"le": {}, "la": {}, "les": {}, "un": {}, "une": {}, "des": {}, "du": {},
	"de": {}, "dans": {}, "et": {}, "ou": {}, "mais": {}, "pour": {},
	"avec": {}, "sans": {}, "sur": {}, "sous": {}, "par": {}, "est": {},
	"sont": {}, "je": {}, "tu": {}, "il": {}, "elle": {}, "nous": {},
	"vous": {}, "ils": {}, "elles": {}, "mon": {}, "ma": {}, "mes": {},
	"ce": {}, "cette": {}, "ces": {}, "qui": {}, "que": {}, "quoi": {},
	"cherche": {}, "recherche": {}, "voudrais": {}, "veux": {}, "besoin": {},
}

// ExtractKeywords pulls up to five meaningful terms from the text:
// stop words and short tokens are dropped, duplicates removed, and the
// remainder ordered by length descending so specific terms come first.
func ExtractKeywords(text string) []string {
	seen := make(map[string]struct{})
	var words []string

	for _, raw := range strings.Fields(strings.ToLower(text)) {
		word := strings.Trim(raw, ".,;:!?\"'()")
		if len([]rune(word)) <= 2 {
			continue
		}
		if _, stop := frenchStopWords[word]; stop {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		words = append(words, word)
	}

	// Longest first; stable for equal lengths.
	for i := 1; i < len(words); i++ {
		for j := i; j > 0 && len(words[j]) > len(words[j-1]); j-- {
			words[j], words[j-1] = words[j-1], words[j]
		}
	}

	if len(words) > 5 {
		words = words[:5]
	}
	return words
}
