package research

import (
	"errors"
	"fmt"
	"strings"

	"auto_article_curator/llm"
)

// relatedTopicsRequest asks for URLs of related reference pages.
type relatedTopicsRequest struct {
	Topic string
}

func (r relatedTopicsRequest) Validate() error {
	if strings.TrimSpace(r.Topic) == "" {
		return errors.New("topic is required")
	}
	return nil
}

func (r relatedTopicsRequest) Prompt() llm.Prompt {
	var sb strings.Builder
	sb.WriteString("You are preparing to write a reference article on the topic below.\n")
	sb.WriteString("Recommend encyclopedia pages on closely related subjects whose structure could inspire the article.\n")
	sb.WriteString("Focus on pages that show which aspects are usually covered for topics of this kind.\n")
	sb.WriteString("List the URLs only, one per line.\n")
	return llm.Prompt{
		Op:     "related_topics",
		System: sb.String(),
		User:   fmt.Sprintf("Topic of interest: %s", r.Topic),
	}
}

// personaRequest turns related page outlines into a set of editor perspectives.
type personaRequest struct {
	Topic    string
	Examples string
	Max      int
}

func (r personaRequest) Validate() error {
	if strings.TrimSpace(r.Topic) == "" {
		return errors.New("topic is required")
	}
	if r.Max <= 0 {
		return errors.New("max personas must be positive")
	}
	return nil
}

func (r personaRequest) Prompt() llm.Prompt {
	var sb strings.Builder
	sb.WriteString("You need to assemble a group of editors who will research and write a comprehensive article on a topic together.\n")
	sb.WriteString("Each editor represents a different perspective, role or affiliation related to the topic.\n")
	sb.WriteString("Use the outlines of related pages below for inspiration on which perspectives matter.\n")
	sb.WriteString("For every editor give a short name and a description of what they will focus on.\n")
	sb.WriteString("Answer in this format:\n1. short name of editor 1: description\n2. short name of editor 2: description\n...\n")
	user := fmt.Sprintf("Topic of interest: %s\nWiki page outlines of related topics for inspiration:\n%s\n\nGive at most %d editors.",
		r.Topic, r.Examples, r.Max)
	return llm.Prompt{Op: "persona", System: sb.String(), User: user}
}

// questionRequest produces the writer's next question.
type questionRequest struct {
	Topic   string
	Persona string
	History string
}

func (r questionRequest) Validate() error {
	if strings.TrimSpace(r.Topic) == "" {
		return errors.New("topic is required")
	}
	return nil
}

func (r questionRequest) Prompt() llm.Prompt {
	var sb strings.Builder
	sb.WriteString("You are an experienced writer preparing a reference article on a specific topic.\n")
	sb.WriteString("Besides being a writer you have a specific focus when researching the topic.\n")
	sb.WriteString("You are chatting with an expert to get information. Ask good questions to get more useful information.\n")
	sb.WriteString("- Ask only one question at a time.\n")
	sb.WriteString("- Do not repeat questions you have already asked.\n")
	sb.WriteString("- Keep the questions related to the topic.\n")
	sb.WriteString(fmt.Sprintf("- When you have no more questions, say \"%s\" to end the conversation.\n", TerminalPhrase))

	persona := r.Persona
	if strings.TrimSpace(persona) == "" {
		persona = "N/A"
	}
	history := r.History
	if strings.TrimSpace(history) == "" {
		history = "N/A"
	}
	user := fmt.Sprintf("Topic you want to write: %s\n\nYour persona besides being a writer: %s\n\nConversation history:\n%s\n\nQuestion:",
		r.Topic, persona, history)
	return llm.Prompt{Op: "question", System: sb.String(), User: user}
}

// queryRequest breaks a question into search queries.
type queryRequest struct {
	Topic    string
	Question string
	Max      int
}

func (r queryRequest) Validate() error {
	if strings.TrimSpace(r.Question) == "" {
		return errors.New("question is required")
	}
	return nil
}

func (r queryRequest) Prompt() llm.Prompt {
	var sb strings.Builder
	sb.WriteString("You want to answer the question using web search. What do you type in the search box?\n")
	sb.WriteString("Write the queries you will use in the following format:\n- query 1\n- query 2\n...\n")
	if r.Max > 0 {
		sb.WriteString(fmt.Sprintf("Use at most %d queries.\n", r.Max))
	}
	user := fmt.Sprintf("Topic you are discussing about: %s\nQuestion you want to answer: %s", r.Topic, r.Question)
	return llm.Prompt{Op: "queries", System: sb.String(), User: user}
}

// answerRequest answers from the retrieved snippets with inline citations.
type answerRequest struct {
	Topic    string
	Question string
	Info     string
}

func (r answerRequest) Validate() error {
	if strings.TrimSpace(r.Question) == "" {
		return errors.New("question is required")
	}
	if strings.TrimSpace(r.Info) == "" {
		return errors.New("gathered information is required")
	}
	return nil
}

func (r answerRequest) Prompt() llm.Prompt {
	var sb strings.Builder
	sb.WriteString("You are an expert who uses gathered information effectively.\n")
	sb.WriteString("You are chatting with a writer who is preparing an article on a topic you know.\n")
	sb.WriteString("Make your response as informative as possible and make sure every sentence is supported by the gathered information.\n")
	sb.WriteString("If the information is not directly related to the question, give the most relevant answer it supports.\n")
	sb.WriteString("Use [1], [2], ..., [n] inline to cite the numbered information you rely on. Do not list references at the end.\n")
	user := fmt.Sprintf("Topic you are discussing about: %s\n\nQuestion: %s\n\nGathered information:\n%s\n\nNow give your response:",
		r.Topic, r.Question, r.Info)
	return llm.Prompt{Op: "answer", System: sb.String(), User: user}
}
