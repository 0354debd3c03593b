// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package roast

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/iamzeaq/RoastMyFace-Backend/jokes"
)

const english = "standard English"

var styleLabels = map[string]string{
	"pidgin": "Nigerian Pidgin",
	"patois": "Jamaican Patois",
}

// Label returns the language description used in prompts for a style.
func Label(style string) string {
	if l, ok := styleLabels[jokes.Key(style)]; ok {
		return l
	}
	return english
}

const maxExamples = 3

// buildPrompt returns the instruction sent to the model. The seed and the
// timestamp keep the endpoint from serving a cached completion.
func (r *Resolver) buildPrompt(style string, req *Request) string {
	var sb strings.Builder
	seed := r.intn(1000000)
	ts := r.now().UnixMilli()
	if req.Custom != "" {
		fmt.Fprintf(&sb, "<s>[INST] You are a savage roast generator (seed: %d, time: %d).\n", seed, ts)
		sb.WriteString(strings.TrimSpace(req.Custom))
		sb.WriteString("\n\nMake it hilarious, specific, and under 25 words. End with punctuation.\n")
		sb.WriteString("Tailor the roast to match the theme requested.\n")
		sb.WriteString("Make it light-hearted enough for friends joking with each other.\n")
	} else {
		fmt.Fprintf(&sb, "<s>[INST] You are a funny roast generator (seed: %d, time: %d). ", seed, ts)
		fmt.Fprintf(&sb, "Write exactly one funny, brief roast in %s about someone's appearance. ", Label(style))
		sb.WriteString("Make it witty, under 15 words, and end with punctuation.\n")
		if req.Category != "" {
			fmt.Fprintf(&sb, "Theme: %s.\n", strings.TrimSpace(req.Category))
		}
		if req.Tone != "" {
			fmt.Fprintf(&sb, "Tone: %s.\n", strings.TrimSpace(req.Tone))
		}
	}
	if ex := r.examples(style, req); len(ex) != 0 {
		sb.WriteString("Match the style and tone of these examples without repeating them:\n")
		for _, e := range ex {
			sb.WriteString("- ")
			sb.WriteString(e)
			sb.WriteString("\n")
		}
	}
	sb.WriteString("Only return the roast text itself, nothing else. [/INST]")
	return sb.String()
}

// examples returns up to maxExamples distinct jokes from the pack matching the
// category and tone. Nothing is returned if neither is set.
func (r *Resolver) examples(style string, req *Request) []string {
	if req.Category == "" && req.Tone == "" {
		return nil
	}
	l := r.data.Pack.Jokes(style, req.Tone, req.Category)
	if len(l) == 0 {
		return nil
	}
	l = append([]string(nil), l...)
	n := min(maxExamples, len(l))
	for i := range n {
		j := i + r.intn(len(l)-i)
		l[i], l[j] = l[j], l[i]
	}
	return l[:n]
}

var positions = []string{"first", "second", "third", "fourth", "fifth", "sixth", "seventh", "eighth", "ninth", "tenth"}

// Position returns the ordinal word for a 0 based index.
func Position(i int) string {
	if i >= 0 && i < len(positions) {
		return positions[i]
	}
	n := i + 1
	suffix := "th"
	if n%100 < 11 || n%100 > 13 {
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return strconv.Itoa(n) + suffix
}

const (
	comparison   = "In this one sentence, compare them to the others in this set, dragging their flaws so viciously they're clearly the worst, with no redemption."
	savageSuffix = "Keep the roast to a single sentence, razor-sharp, unapologetic, and dripping with savage humor, avoiding anything polite or tame; go for the jugular with clever, brutal wit."
)

func subject(i, total int) string {
	if total <= 1 {
		return "the person in this image"
	}
	return fmt.Sprintf("the %s person in a set of %d images", Position(i), total)
}
