package task

import (
	"encoding/json"
	"fmt"
	"strings"
)

const suggestSystemPrompt = `You are a higher-education curriculum expert reviewing course syllabi.
Analyse the syllabus and propose concrete improvements.
Respond with JSON: {"suggestions": [{"section": string, "issue": string, "suggestion": string, "priority": "high"|"medium"|"low"}], "summary": string}.`

const chatSystemPrompt = `You are an assistant for university curriculum design.
Answer questions about the syllabus in context, cite sections when relevant, and keep answers concise.`

const diffSystemPrompt = `You compare two versions of an educational document.
Respond with JSON: {"diffs": [{"section": string, "change": "added"|"removed"|"modified", "description": string}], "summary": string, "impactLevel": "low"|"medium"|"high"}.`

const cloCheckSystemPrompt = `You are a quality assurance expert checking consistency between course learning outcomes (CLOs) and program learning outcomes (PLOs).
Respond with JSON: {"report": {"issues": [string], "coverage": object, "recommendations": [string]}, "score": number between 0 and 1, "summary": string}.`

const summarySystemPrompt = `You summarise educational documents for students and reviewers.
Respond with JSON: {"summary": string, "bullets": [string], "keywords": [string], "targetAudience": string, "prerequisites": string}.`

func buildSuggestPrompt(content, focusArea string) string {
	var b strings.Builder
	b.WriteString("Analyse the following syllabus in depth.\n\n")
	if focusArea != "" {
		fmt.Fprintf(&b, "Focus area: %s\n\n", focusArea)
	}
	b.WriteString("SYLLABUS:\n")
	b.WriteString(content)
	return b.String()
}

func buildDiffPrompt(oldContent, newContent string) string {
	return fmt.Sprintf("Compare the two syllabus versions and list the important changes.\n\nOLD VERSION:\n%s\n\nNEW VERSION:\n%s",
		oldContent, newContent)
}

func buildCLOCheckPrompt(clos, plos, mapping json.RawMessage) string {
	var b strings.Builder
	b.WriteString("Check the alignment between these CLOs and PLOs.\n\n")
	fmt.Fprintf(&b, "CLOs:\n%s\n\nPLOs:\n%s\n", rawOrEmpty(clos, "[]"), rawOrEmpty(plos, "[]"))
	if len(mapping) > 0 && string(mapping) != "null" {
		fmt.Fprintf(&b, "\nCurrent mapping:\n%s\n", mapping)
	}
	return b.String()
}

var summaryLengths = map[string]string{
	"short":  "50-100 words",
	"medium": "200-300 words",
	"long":   "400-500 words",
}

func buildSummaryPrompt(content, length string) string {
	guide, ok := summaryLengths[length]
	if !ok {
		guide = summaryLengths["medium"]
	}
	return fmt.Sprintf("Summarise the following syllabus (%s):\n\n%s", guide, content)
}

func rawOrEmpty(raw json.RawMessage, empty string) string {
	if len(raw) == 0 || string(raw) == "null" {
		return empty
	}
	return string(raw)
}
