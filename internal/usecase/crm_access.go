package usecase

// CRM is the capability to reach the external CRM: either configured with a
// client or disabled. Callers must go through Client() and handle the
// disabled case explicitly.
type CRM struct {
	client CRMClient
}

func ConfiguredCRM(client CRMClient) CRM {
	return CRM{client: client}
}

func DisabledCRM() CRM {
	return CRM{}
}

func (c CRM) Client() (CRMClient, bool) {
	return c.client, c.client != nil
}

func (c CRM) Enabled() bool {
	return c.client != nil
}
