package dispatch

import (
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Operation payload schemas. Validation runs before any network call;
// a payload that fails here is rejected synchronously and nothing is
// sent.

const sendMessageSchema = `{
	"type": "object",
	"required": ["message"],
	"additionalProperties": false,
	"properties": {
		"message": {"type": "string", "minLength": 1},
		"room_id": {"type": "string"},
		"user_id": {"type": "string"},
		"title": {"type": "string"},
		"image": {"type": "string", "minLength": 1}
	}
}`

const sendNotificationSchema = `{
	"type": "object",
	"required": ["message"],
	"additionalProperties": false,
	"properties": {
		"message": {"type": "string", "minLength": 1},
		"title": {"type": "string"},
		"priority": {"type": "string", "enum": ["normal", "low", "high", "urgent"]},
		"type": {"type": "string", "enum": ["notification", "alert", "automation", "device", "security"]},
		"device_name": {"type": "string"},
		"room_id": {"type": "string"},
		"include_timestamp": {"type": "boolean"}
	}
}`

const createBotSchema = `{
	"type": "object",
	"required": ["name"],
	"additionalProperties": false,
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"description": {"type": "string"},
		"webhook_id": {"type": "string"}
	}
}`

const listChannelsSchema = `{
	"type": "object",
	"additionalProperties": false,
	"properties": {}
}`

const channelActionSchema = `{
	"type": "object",
	"required": ["channel_id"],
	"additionalProperties": false,
	"properties": {
		"channel_id": {"type": "integer", "minimum": 1}
	}
}`

const sendDMSchema = `{
	"type": "object",
	"required": ["user_id", "message"],
	"additionalProperties": false,
	"properties": {
		"user_id": {"type": "integer", "minimum": 1},
		"message": {"type": "string", "minLength": 1}
	}
}`

const dmShortcutSchema = `{
	"type": "object",
	"required": ["message"],
	"additionalProperties": false,
	"properties": {
		"message": {"type": "string", "minLength": 1},
		"title": {"type": "string"}
	}
}`

const searchSchema = `{
	"type": "object",
	"required": ["query"],
	"additionalProperties": false,
	"properties": {
		"query": {"type": "string", "minLength": 1},
		"type": {"type": "string", "enum": ["all", "users", "channels", "messages"]}
	}
}`

type schemaRegistry struct {
	once    sync.Once
	initErr error
	schemas map[string]*jsonschema.Schema
}

var opSchemas schemaRegistry

func initSchemas() error {
	opSchemas.once.Do(func() {
		sources := map[string]string{
			OpSendMessage:      sendMessageSchema,
			OpSendNotification: sendNotificationSchema,
			OpCreateBot:        createBotSchema,
			OpListChannels:     listChannelsSchema,
			OpJoinChannel:      channelActionSchema,
			OpLeaveChannel:     channelActionSchema,
			OpSendDM:           sendDMSchema,
			OpSearch:           searchSchema,
			opDMShortcut:       dmShortcutSchema,
		}
		opSchemas.schemas = make(map[string]*jsonschema.Schema, len(sources))
		for name, src := range sources {
			compiled, err := jsonschema.CompileString("op_"+name, src)
			if err != nil {
				opSchemas.initErr = fmt.Errorf("failed to compile schema for %s: %w", name, err)
				return
			}
			opSchemas.schemas[name] = compiled
		}
	})
	return opSchemas.initErr
}
