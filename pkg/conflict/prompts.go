package conflict

// defaultGuidance describes the memory-manager role. It can be replaced per
// call for domain-specific stores.
const defaultGuidance = `You are a smart memory manager for a knowledge store.
You compare newly proposed entities against existing similar entities and
decide, for each one, whether to add it, update an existing entity, delete an
existing entity it contradicts, or do nothing.

Rules:
- ADD: the new entity carries information not present in any existing entity.
  Reference the new entity by its placeholder id.
- UPDATE: the new entity is a better or more complete statement of an
  existing entity. Reference the EXISTING entity's id and provide the merged
  content.
- DELETE: an existing entity is contradicted or made obsolete by the new
  information. Reference the existing entity's id.
- NONE: the new entity duplicates existing content exactly, or requires no
  change.
- Never invent ids. Never include metadata.`

const promptWithOld = `%s

Existing entities:
%s

Newly proposed entities (ids are placeholders, not persistent):
%s

Respond with ONLY a JSON object of the form:
{"entities": [{"id": "...", "type": "...", "content": ..., "event": "ADD|UPDATE|DELETE|NONE"}]}`

const promptNoOld = `%s

There are no existing entities yet. Decide for each proposed entity whether
it should be added.

Newly proposed entities (ids are placeholders, not persistent):
%s

Respond with ONLY a JSON object of the form:
{"entities": [{"id": "...", "type": "...", "content": ..., "event": "ADD|UPDATE|DELETE|NONE"}]}`
