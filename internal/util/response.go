package util

type Envelope map[string]any

// Message builds the {"message": ...} payload the API uses for every error
// and plain-success response.
func Message(message string) Envelope {
	return Envelope{"message": message}
}

func Data(key string, value any) Envelope {
	return Envelope{key: value}
}
