package outbox

const registrationCreatedSchema = `{
  "type": "object",
  "title": "RegistrationCreated",
  "properties": {
    "registration_id": {"type": "string"},
    "user_id": {"type": "string"},
    "activity_id": {"type": "string"},
    "status": {"type": "string", "enum": ["in_progress"]},
    "created_at": {"type": "string", "format": "date-time"}
  },
  "required": ["registration_id", "user_id", "activity_id", "status", "created_at"],
  "additionalProperties": false
}`

const registrationStatusChangedSchema = `{
  "type": "object",
  "title": "RegistrationStatusChanged",
  "properties": {
    "registration_id": {"type": "string"},
    "user_id": {"type": "string"},
    "activity_id": {"type": "string"},
    "previous_status": {"type": "string", "enum": ["in_progress"]},
    "status": {"type": "string", "enum": ["completed", "cancelled"]},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["registration_id", "user_id", "activity_id", "previous_status", "status", "occurred_at"],
  "additionalProperties": false
}`

const registrationDeletedSchema = `{
  "type": "object",
  "title": "RegistrationDeleted",
  "properties": {
    "registration_id": {"type": "string"},
    "user_id": {"type": "string"},
    "activity_id": {"type": "string"},
    "status": {"type": "string", "enum": ["in_progress", "completed", "cancelled"]},
    "deleted_at": {"type": "string", "format": "date-time"}
  },
  "required": ["registration_id", "user_id", "activity_id", "status", "deleted_at"],
  "additionalProperties": false
}`
