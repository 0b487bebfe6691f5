package config

type WorkerKeyStruct struct {
	PersistViolationsQueue string
	PersistAnswersQueue    string
	PersistScoresQueue     string
}

var WorkerKey = &WorkerKeyStruct{
	PersistViolationsQueue: "persist_violations_queue",
	PersistAnswersQueue:    "persist_answers_queue",
	PersistScoresQueue:     "persist_scores_queue",
}
