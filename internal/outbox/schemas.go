package outbox

const completionRecordedSchema = `{
  "type": "object",
  "title": "CompletionRecorded",
  "properties": {
    "tenant_id": {"type": "string"},
    "user_id": {"type": "string"},
    "activity_id": {"type": "string"},
    "attempt_key": {"type": "string"},
    "coins_earned": {"type": "integer"},
    "xp_earned": {"type": "integer"},
    "badge_earned": {"type": "boolean"},
    "all_answers_correct": {"type": "boolean"},
    "fully_completed": {"type": "boolean"},
    "is_replay": {"type": "boolean"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["tenant_id", "user_id", "activity_id", "attempt_key", "coins_earned", "xp_earned", "all_answers_correct", "fully_completed", "is_replay", "occurred_at"],
  "additionalProperties": false
}`

const activityReplayedSchema = `{
  "type": "object",
  "title": "ActivityReplayed",
  "properties": {
    "tenant_id": {"type": "string"},
    "user_id": {"type": "string"},
    "activity_id": {"type": "string"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["tenant_id", "user_id", "activity_id", "occurred_at"],
  "additionalProperties": false
}`

const walletBalanceChangedSchema = `{
  "type": "object",
  "title": "WalletBalanceChanged",
  "properties": {
    "tenant_id": {"type": "string"},
    "user_id": {"type": "string"},
    "activity_id": {"type": "string"},
    "delta": {"type": "integer"},
    "balance": {"type": "integer"},
    "reason": {"type": "string"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["tenant_id", "user_id", "delta", "balance", "reason", "occurred_at"],
  "additionalProperties": false
}`
