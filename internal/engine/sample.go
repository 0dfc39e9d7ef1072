package engine

// sampleRows is the built-in dataset used when input data cannot be resolved
// and fallback is enabled.
func sampleRows() []Row {
	return []Row{
		{"id": "sample-1", "prompt": "What is the capital of France?", "expected_response": "The capital of France is Paris."},
		{"id": "sample-2", "prompt": "How many days are in a leap year?", "expected_response": "A leap year has 366 days."},
		{"id": "sample-3", "prompt": "What is the boiling point of water at sea level in Celsius?", "expected_response": "Water boils at 100 degrees Celsius at sea level."},
	}
}

// smokeTestRow is the synthetic input of a SingleEvaluation job
func smokeTestRow() Row {
	return Row{
		"id":                "single-1",
		"prompt":            "Reply with a short greeting.",
		"expected_response": "Hello! How can I help you today?",
	}
}
