package extract

// extractionSystemPrompt is the system prompt for concept extraction calls.
const extractionSystemPrompt = `You are a concept extractor for professional-ethics case narratives. You identify concepts of a single requested category and report exactly where they appear in the text.

Always respond with valid JSON. Do not include any text outside the JSON array.`

// extractionUserPrompt is the user prompt template for concept extraction.
// Placeholders: category name, category description, known-concept context
// block, narrative text.
const extractionUserPrompt = `Extract every concept of category "%s" from the case narrative below.

Category definition: %s.

%sFor each concept found, report:
- "label": a short noun-phrase label for the concept
- "quote": the exact narrative text the concept is grounded in
- "start": character offset where the quote begins (0-based)
- "end": character offset one past the quote's last character
- "confidence": how certain you are this is a %s concept, 0.0 to 1.0
- "reasoning": one sentence explaining the identification

Do not extract concepts of other categories. Do not invent concepts that
have no grounding in the text. If no concepts of this category appear,
respond with an empty array.

Case narrative:
---
%s
---

Respond with a JSON array only:
[{"label":"...","quote":"...","start":0,"end":0,"confidence":0.0,"reasoning":"..."}]`

// decompositionSystemPrompt is the system prompt for semantic splitting calls.
const decompositionSystemPrompt = `You decompose compound concept phrases into atomic concepts. An atomic concept names exactly one thing.

Always respond with valid JSON. Do not include any text outside the JSON array.`

// decompositionUserPrompt is the user prompt template for semantic splitting.
// Placeholders: category name, compound phrase.
const decompositionUserPrompt = `The phrase below was extracted as a single "%s" concept but may name several distinct atomic concepts.

If it does, list each atomic concept as a short noun-phrase label. If the
phrase already names a single concept, respond with an array containing
only the original phrase.

Phrase: %q

Respond with a JSON array of strings only:
["...", "..."]`
