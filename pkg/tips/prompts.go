package tips

const generatePromptFormat = `You analyze completed agent task trajectories and extract reusable tips
that would help an agent perform similar tasks better in the future.

Task: %s
Number of steps: %d

Trajectory:
%s

Extract at most 5 high-value tips. Each tip must be:
- actionable: a concrete behavior, not a platitude
- transferable: useful beyond this exact task
- grounded: derived from something that actually happened in the trajectory

Categories:
- "strategy": an approach that worked and should be repeated
- "recovery": how a failure was (or should have been) recovered from
- "optimization": a way to reach the same result with less work

Respond with ONLY a JSON object of the form:
{"tips": [{"content": "...", "rationale": "...", "category": "strategy|recovery|optimization", "trigger": "..."}]}

Return {"tips": []} if the trajectory yields no transferable lessons.`

const combinePromptFormat = `The following tips were learned from similar tasks and overlap with each
other. Merge them into fewer, non-redundant guidelines that preserve every
distinct lesson.

Task descriptions these tips came from:
%s

Tips:
%s

Rules:
- Merge duplicates and near-duplicates into one guideline each.
- Keep distinct lessons separate; do not blend unrelated tips.
- Prefer the most specific, actionable phrasing among the variants.

Respond with ONLY a JSON object of the form:
{"tips": [{"content": "...", "rationale": "...", "category": "strategy|recovery|optimization", "trigger": "..."}]}`
