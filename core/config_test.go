package core

import (
	"testing"
)

func Test_Config_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Source: SourceConfig{File: "register.xlsx", LockRetries: 5, ReadRetries: 3},
			Server: ServerConfig{Port: 8000},
		}
	}

	t.Run("valid config passes", func(t *testing.T) {
		if err := valid().Validate(); err != nil {
			t.Errorf("Validate() = %v; want nil", err)
		}
	})

	t.Run("failures map to field errors", func(t *testing.T) {
		conf := valid()
		conf.Source.File = ""
		conf.Server.Port = 0
		conf.Webhook.URL = "not-a-url"

		err := conf.Validate()
		vErr, ok := err.(*ValidationError)
		if !ok {
			t.Fatalf("Validate() = %T; want *ValidationError", err)
		}

		gotFields := make(map[string]bool, len(vErr.Fields))
		for _, fldErr := range vErr.Fields {
			if fldErr.Error == "" {
				t.Errorf("field %q has an empty error message", fldErr.Field)
			}
			gotFields[fldErr.Field] = true
		}
		for _, field := range []string{"sourceFile", "serverPort", "webhookUrl"} {
			if !gotFields[field] {
				t.Errorf("Validate() missing field error for %q (got %v)", field, vErr.Fields)
			}
		}
		if len(vErr.Fields) != 3 {
			t.Errorf("Validate() reported %d field errors; want 3", len(vErr.Fields))
		}
	})
}
