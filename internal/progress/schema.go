package progress

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const recordSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "learningProgress",
  "type": "object",
  "definitions": {
    "date": {
      "type": ["string", "null"],
      "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"
    },
    "count": {"type": "integer", "minimum": 0},
    "score": {"type": "integer", "minimum": 0, "maximum": 100},
    "reward": {
      "type": "object",
      "required": ["xp", "coins"],
      "properties": {
        "xp": {"$ref": "#/definitions/count"},
        "coins": {"$ref": "#/definitions/count"}
      }
    },
    "id": {"type": "integer", "minimum": 0}
  },
  "required": [
    "xp", "coins", "completedLessons", "completedUnitTests", "finalTestCompleted",
    "finalTestUnlocked", "finalTestLastAttemptDate", "lessonLedger", "unitTestAttempts"
  ],
  "properties": {
    "schemaVersion": {"type": "integer", "minimum": 1},
    "xp": {"$ref": "#/definitions/count"},
    "coins": {"$ref": "#/definitions/count"},
    "completedLessons": {"type": "array", "items": {"$ref": "#/definitions/id"}, "uniqueItems": true},
    "completedUnitTests": {"type": "array", "items": {"$ref": "#/definitions/id"}, "uniqueItems": true},
    "finalTestCompleted": {"type": "boolean"},
    "finalTestUnlocked": {"type": "boolean"},
    "finalTestLastAttemptDate": {"$ref": "#/definitions/date"},
    "lessonLedger": {
      "type": "object",
      "propertyNames": {"pattern": "^[0-9]+$"},
      "additionalProperties": {
        "type": "object",
        "required": ["attempts", "bestScore", "rewardIssued"],
        "properties": {
          "attempts": {"$ref": "#/definitions/count"},
          "bestScore": {"$ref": "#/definitions/score"},
          "rewardIssued": {"$ref": "#/definitions/reward"},
          "lastAttemptDate": {"$ref": "#/definitions/date"}
        }
      }
    },
    "unitTestAttempts": {
      "type": "object",
      "propertyNames": {"pattern": "^[0-9]+$"},
      "additionalProperties": {
        "type": "object",
        "required": ["dailyCount", "totalCount", "lastAttemptDate"],
        "properties": {
          "dailyCount": {"$ref": "#/definitions/count"},
          "totalCount": {"$ref": "#/definitions/count"},
          "lastAttemptDate": {"$ref": "#/definitions/date"},
          "bestScore": {"$ref": "#/definitions/score"},
          "rewardIssued": {"$ref": "#/definitions/reward"}
        }
      }
    },
    "finalTest": {
      "type": "object",
      "properties": {
        "attempts": {"$ref": "#/definitions/count"},
        "bestScore": {"$ref": "#/definitions/score"},
        "rewardIssued": {"$ref": "#/definitions/reward"}
      }
    }
  }
}`

var recordSchema = mustCompileSchema(recordSchemaJSON)

func mustCompileSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compiling progress schema: %v", err))
	}
	return s
}

// validateDocument checks raw JSON against the progress record schema.
func validateDocument(data []byte) error {
	result, err := recordSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrMalformedRecord, strings.Join(msgs, "; "))
}
