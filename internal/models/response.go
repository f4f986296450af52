package models

// APIResponse is the standard response envelope. Requests are routed via the
// "actions" field in the JSON body and always answer with this shape.
type APIResponse struct {
	Status bool        `json:"status"`
	Msg    string      `json:"msg"`
	Obj    interface{} `json:"obj"`
}
