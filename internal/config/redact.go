package config

const redactedValue = "[redacted]"

// Redacted returns a copy of the configuration with credentials masked, suitable for printing.
func (c Config) Redacted() Config {
	out := c
	out.Model.OpenAI.APIKey = redact(c.Model.OpenAI.APIKey)
	out.Model.Azure.APIKey = redact(c.Model.Azure.APIKey)
	out.Cache.RedisURL = redact(c.Cache.RedisURL)
	out.Archive.Store = c.Archive.Store.redacted()
	out.Inputs = c.Inputs.redacted()
	return out
}

func (b BlobConfig) redacted() BlobConfig {
	b.EncryptionKey = redact(b.EncryptionKey)
	b.S3.AccessKeyID = redact(b.S3.AccessKeyID)
	b.S3.SecretAccessKey = redact(b.S3.SecretAccessKey)
	return b
}

func redact(value string) string {
	if value == "" {
		return ""
	}
	return redactedValue
}
