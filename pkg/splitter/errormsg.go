package splitter

// ErrorCode is the messageError "data.status" value, carried verbatim from
// the original daemon's BaseErrorMsg::ErrorMsgCodes.
type ErrorCode int

const (
	ErrGeneral                 ErrorCode = 1
	ErrJSONParse               ErrorCode = 2
	ErrMissingMessageType      ErrorCode = 3
	ErrValidation              ErrorCode = 4
	ErrManagementQueueInactive ErrorCode = 5
	ErrManagementQueueFull     ErrorCode = 6
	ErrNetworkQueueInactive    ErrorCode = 7
	ErrNetworkQueueFull        ErrorCode = 8
)

func baseMessageError(msgID string) map[string]interface{} {
	return map[string]interface{}{
		"mType": "messageError",
		"data": map[string]interface{}{
			"msgId": msgID,
		},
	}
}

func dataOf(doc map[string]interface{}) map[string]interface{} {
	return doc["data"].(map[string]interface{})
}

func generalErrorMsg(msgID, msg, errStr string) map[string]interface{} {
	doc := baseMessageError(msgID)
	data := dataOf(doc)
	data["rsp"] = map[string]interface{}{"message": msg, "error": errStr}
	data["status"] = int(ErrGeneral)
	data["statusStr"] = "An error has occurred while handling request."
	return doc
}

func jsonParseErrorMsg(msg, parseErr string, offset int) map[string]interface{} {
	doc := baseMessageError("unknown")
	data := dataOf(doc)
	data["rsp"] = map[string]interface{}{"message": msg, "error": parseErr, "offset": offset}
	data["status"] = int(ErrJSONParse)
	data["statusStr"] = "Failed to parse JSON message."
	return doc
}

func unsupportedMessageTypeErrorMsg(msgID string, raw []byte) map[string]interface{} {
	doc := baseMessageError(msgID)
	data := dataOf(doc)
	data["rsp"] = map[string]interface{}{"message": string(raw)}
	data["status"] = int(ErrGeneral)
	data["statusStr"] = "An error has occurred while handling request."
	return doc
}

func missingMTypeErrorMsg(msgID, msg string) map[string]interface{} {
	doc := baseMessageError(msgID)
	data := dataOf(doc)
	data["rsp"] = map[string]interface{}{"message": msg}
	data["status"] = int(ErrMissingMessageType)
	data["statusStr"] = "mType missing in JSON message."
	return doc
}

func validationErrorMsg(msgID, msg, validationErr string) map[string]interface{} {
	doc := baseMessageError(msgID)
	data := dataOf(doc)
	data["rsp"] = map[string]interface{}{"message": msg, "error": validationErr}
	data["status"] = int(ErrValidation)
	data["statusStr"] = "Failed to validate JSON message contents."
	return doc
}

func queueNotInitializedErrorMsg(msgID, ignoredMType string, network bool) map[string]interface{} {
	doc := baseMessageError(msgID)
	data := dataOf(doc)
	data["rsp"] = map[string]interface{}{"ignoredMessage": ignoredMType}
	if network {
		data["status"] = int(ErrNetworkQueueInactive)
		data["statusStr"] = "Network queue is not initialized."
	} else {
		data["status"] = int(ErrManagementQueueInactive)
		data["statusStr"] = "Management queue is not initialized."
	}
	return doc
}

func queueFullErrorMsg(msgID, ignoredMType string, network bool, capacity int) map[string]interface{} {
	doc := baseMessageError(msgID)
	data := dataOf(doc)
	data["rsp"] = map[string]interface{}{"ignoredMessage": ignoredMType, "capacity": capacity}
	if network {
		data["status"] = int(ErrNetworkQueueFull)
		data["statusStr"] = "Network queue is full."
	} else {
		data["status"] = int(ErrManagementQueueFull)
		data["statusStr"] = "Management queue is full."
	}
	return doc
}
